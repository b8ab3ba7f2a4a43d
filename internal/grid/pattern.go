package grid

import "fmt"

// Rotation identifies one of the four fixed orientations of the target pattern.
type Rotation uint8

const (
	North Rotation = iota // unrotated
	East                  // 90 degrees clockwise
	South                 // 180 degrees
	West                  // 90 degrees anti-clockwise
)

// NumRotations is the size of the fixed rotation set.
const NumRotations = 4

func (r Rotation) String() string {
	switch r {
	case North:
		return "N"
	case East:
		return "E"
	case South:
		return "S"
	case West:
		return "W"
	default:
		return fmt.Sprintf("Rotation(%d)", uint8(r))
	}
}

// Rotate90 returns p rotated 90 degrees clockwise. p must be square.
func Rotate90(p *Grid) (*Grid, error) {
	if p.rows != p.cols {
		return nil, fmt.Errorf("%w: pattern %dx%d is not square", ErrShape, p.rows, p.cols)
	}
	size := p.rows
	out := New(size, size)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			out.Set(j, size-i-1, p.At(i, j))
		}
	}
	return out, nil
}

// Rotations derives the N, E, S, W forms of p. Index equals the Rotation value.
func Rotations(p *Grid) ([NumRotations]*Grid, error) {
	var out [NumRotations]*Grid
	if p.rows != p.cols {
		return out, fmt.Errorf("%w: pattern %dx%d is not square", ErrShape, p.rows, p.cols)
	}
	out[North] = p.Clone()
	for dir := East; dir <= West; dir++ {
		next, err := Rotate90(out[dir-1])
		if err != nil {
			return out, err
		}
		out[dir] = next
	}
	return out, nil
}
