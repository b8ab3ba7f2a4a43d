// Package gridtest builds grids from 'X'/'O' literals for tests.
package gridtest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/danmuck/setl/internal/grid"
)

// Parse builds a grid from lines of 'X'/'O' characters. Blank lines are skipped.
func Parse(s string) (*grid.Grid, error) {
	lines := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return grid.New(0, 0), nil
	}
	cols := len(lines[0])
	g := grid.New(len(lines), cols)
	for i, line := range lines {
		if len(line) != cols {
			return nil, fmt.Errorf("%w: line %d has %d cells, want %d", grid.ErrShape, i, len(line), cols)
		}
		for j := 0; j < cols; j++ {
			switch line[j] {
			case grid.Alive, grid.Dead:
				g.Set(i, j, line[j])
			default:
				return nil, fmt.Errorf("%w: line %d col %d: unexpected %q", grid.ErrShape, i, j, line[j])
			}
		}
	}
	return g, nil
}

// Equal reports whether a and b have the same shape and cells.
func Equal(a, b *grid.Grid) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Rows() == b.Rows() && a.Cols() == b.Cols() && bytes.Equal(a.Bytes(), b.Bytes())
}

func MustParse(t testing.TB, s string) *grid.Grid {
	t.Helper()
	g, err := Parse(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return g
}
