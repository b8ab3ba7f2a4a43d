// Package worldio loads world and pattern files.
//
// Both formats start with the side length on its own line, followed by that
// many lines of that many 'X' (alive) or 'O' (dead) characters.
package worldio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/setl/internal/grid"
)

var ErrMalformedWorld = errors.New("worldio: malformed world file")

// ReadWorld loads a world and pads it with the dead border.
func ReadWorld(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("worldio: open world: %w", err)
	}
	defer f.Close()
	w, err := DecodeWorld(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// ReadPattern loads a square pattern with no border.
func ReadPattern(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("worldio: open pattern: %w", err)
	}
	defer f.Close()
	p, err := DecodePattern(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func DecodeWorld(r io.Reader) (*grid.Grid, error) {
	return decode(r, 1)
}

func DecodePattern(r io.Reader) (*grid.Grid, error) {
	return decode(r, 0)
}

// decode reads a square body into a grid with pad dead cells on every side.
func decode(r io.Reader, pad int) (*grid.Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing size", ErrMalformedWorld)
	}
	size, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || size < 1 {
		return nil, fmt.Errorf("%w: size %q", ErrMalformedWorld, sc.Text())
	}
	g := grid.New(size+2*pad, size+2*pad)
	for row := 0; row < size; row++ {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %d of %d rows", ErrMalformedWorld, row, size)
		}
		line := strings.TrimRight(sc.Text(), " \t\r")
		if len(line) != size {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrMalformedWorld, row, len(line), size)
		}
		out := g.Row(row + pad)
		for col := 0; col < size; col++ {
			switch c := line[col]; c {
			case grid.Alive, grid.Dead:
				out[col+pad] = c
			default:
				return nil, fmt.Errorf("%w: row %d col %d: unexpected %q", ErrMalformedWorld, row, col, c)
			}
		}
	}
	return g, nil
}
