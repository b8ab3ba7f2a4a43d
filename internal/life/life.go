// Package life evolves grids under the B3/S23 rule.
//
// Only interior cells are computed. The outer ring of a grid is context
// (dead border or halo rows) and is owned by whoever refreshes it.
package life

import (
	"github.com/danmuck/setl/internal/grid"
)

// CountNeighbours counts the live cells around (row, col). The cell must not
// lie on the outer ring.
func CountNeighbours(g *grid.Grid, row, col int) int {
	n := 0
	for dr := -1; dr <= 1; dr++ {
		line := g.Row(row + dr)
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			if line[col+dc] == grid.Alive {
				n++
			}
		}
	}
	return n
}

// Next applies B3/S23.
func Next(alive bool, neighbours int) bool {
	if alive {
		return neighbours == 2 || neighbours == 3
	}
	return neighbours == 3
}

// Evolve writes the next state of cur's interior into next. The outer ring
// of next is left untouched.
func Evolve(cur, next *grid.Grid) {
	for row := 1; row < cur.Rows()-1; row++ {
		out := next.Row(row)
		for col := 1; col < cur.Cols()-1; col++ {
			if Next(cur.IsAlive(row, col), CountNeighbours(cur, row, col)) {
				out[col] = grid.Alive
			} else {
				out[col] = grid.Dead
			}
		}
	}
}

// Engine double buffers one window.
type Engine struct {
	cur  *grid.Grid
	next *grid.Grid
}

// NewEngine takes ownership of window. The spare buffer starts as a copy so
// both buffers share the same outer ring.
func NewEngine(window *grid.Grid) *Engine {
	return &Engine{cur: window, next: window.Clone()}
}

// Step evolves one generation and swaps the buffers.
func (e *Engine) Step() {
	Evolve(e.cur, e.next)
	e.cur, e.next = e.next, e.cur
}

func (e *Engine) Current() *grid.Grid {
	return e.cur
}

// EvolveWorld runs generations steps on a copy of a padded world.
func EvolveWorld(world *grid.Grid, generations int) *grid.Grid {
	e := NewEngine(world.Clone())
	for i := 0; i < generations; i++ {
		e.Step()
	}
	return e.Current()
}
