// Package match scans a worker's owned rows for the four rotations of the
// target pattern.
package match

import (
	"fmt"

	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/partition"
)

// Matcher holds the rotations and the band geometry it scans.
type Matcher struct {
	band      partition.Band
	gridSize  int
	size      int
	rotations [grid.NumRotations]*grid.Grid
}

func NewMatcher(band partition.Band, gridSize int, rotations [grid.NumRotations]*grid.Grid) (*Matcher, error) {
	size := 0
	for dir, p := range rotations {
		if p == nil {
			return nil, fmt.Errorf("match: rotation %d missing", dir)
		}
		if p.Rows() != p.Cols() || (dir > 0 && p.Rows() != size) {
			return nil, fmt.Errorf("match: rotation %d has shape %dx%d", dir, p.Rows(), p.Cols())
		}
		size = p.Rows()
	}
	return &Matcher{band: band, gridSize: gridSize, size: size, rotations: rotations}, nil
}

// Scan tests every top-left position of the owned rows against all four
// rotations of the current generation and emits matches in rotation, row,
// col order. window is the worker's current local window.
func (m *Matcher) Scan(generation int, window *grid.Grid, emit func(Record)) int {
	found := 0
	lastCol := m.gridSize - m.size + 1
	for dir := grid.North; dir <= grid.West; dir++ {
		pattern := m.rotations[dir]
		for wRow := 1; wRow <= m.band.NumRows; wRow++ {
			row := m.band.GlobalRow(wRow)
			if row+m.size > m.gridSize {
				// Windows must lie on real rows; the border row never matches.
				break
			}
			for wCol := 1; wCol <= lastCol; wCol++ {
				if !matchAt(window, pattern, wRow, wCol, m.size) {
					continue
				}
				found++
				emit(Record{Generation: generation, Row: row, Col: wCol - 1, Rotation: dir})
			}
		}
	}
	return found
}

func matchAt(window, pattern *grid.Grid, wRow, wCol, size int) bool {
	for pRow := 0; pRow < size; pRow++ {
		line := window.Row(wRow + pRow)[wCol : wCol+size]
		want := pattern.Row(pRow)
		for pCol := 0; pCol < size; pCol++ {
			if line[pCol] != want[pCol] {
				return false
			}
		}
	}
	return true
}
