// Package grid owns the cell buffer shared by evolution, search and the wire.
//
// A Grid is a row-major buffer with a fixed stride so that any contiguous
// range of rows can be shipped as one message without copying row by row.
package grid

import (
	"errors"
	"fmt"
	"strings"
)

// Cell states, stored as the bytes used by world and pattern files.
const (
	Alive byte = 'X'
	Dead  byte = 'O'
)

var (
	ErrShape      = errors.New("grid: invalid shape")
	ErrOutOfRange = errors.New("grid: row range out of bounds")
)

// Grid is a rows x cols matrix of cells.
type Grid struct {
	rows  int
	cols  int
	cells []byte
}

// New allocates a grid with every cell dead.
func New(rows, cols int) *Grid {
	if rows < 0 || cols < 0 {
		rows, cols = 0, 0
	}
	cells := make([]byte, rows*cols)
	for i := range cells {
		cells[i] = Dead
	}
	return &Grid{rows: rows, cols: cols, cells: cells}
}

// FromBytes wraps cells (len rows*cols) as a grid. Ownership of cells moves
// to the grid.
func FromBytes(rows, cols int, cells []byte) (*Grid, error) {
	if rows < 0 || cols < 0 || len(cells) != rows*cols {
		return nil, fmt.Errorf("%w: %dx%d with %d cells", ErrShape, rows, cols, len(cells))
	}
	return &Grid{rows: rows, cols: cols, cells: cells}, nil
}

// NewWorld allocates an (n+2)x(n+2) world whose outer ring is the dead border.
func NewWorld(n int) *Grid {
	return New(n+2, n+2)
}

func (g *Grid) Rows() int { return g.rows }
func (g *Grid) Cols() int { return g.cols }

func (g *Grid) At(row, col int) byte {
	return g.cells[row*g.cols+col]
}

func (g *Grid) Set(row, col int, v byte) {
	g.cells[row*g.cols+col] = v
}

func (g *Grid) IsAlive(row, col int) bool {
	return g.cells[row*g.cols+col] == Alive
}

// Row returns row i aliasing the grid storage.
func (g *Grid) Row(i int) []byte {
	return g.cells[i*g.cols : (i+1)*g.cols]
}

// RowRange returns rows [from, to) as one contiguous slice aliasing the grid.
func (g *Grid) RowRange(from, to int) ([]byte, error) {
	if from < 0 || to > g.rows || from > to {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, from, to, g.rows)
	}
	return g.cells[from*g.cols : to*g.cols], nil
}

// Bytes exposes the whole buffer.
func (g *Grid) Bytes() []byte {
	return g.cells
}

func (g *Grid) Clone() *Grid {
	cells := make([]byte, len(g.cells))
	copy(cells, g.cells)
	return &Grid{rows: g.rows, cols: g.cols, cells: cells}
}

// LiveCount counts alive cells in the whole buffer.
func (g *Grid) LiveCount() int {
	n := 0
	for _, c := range g.cells {
		if c == Alive {
			n++
		}
	}
	return n
}

func (g *Grid) String() string {
	var b strings.Builder
	b.Grow(g.rows * (g.cols + 1))
	for i := 0; i < g.rows; i++ {
		b.Write(g.Row(i))
		b.WriteByte('\n')
	}
	return b.String()
}
