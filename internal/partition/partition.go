// Package partition plans the row-band decomposition of a padded world.
//
// Every worker recomputes the same table from the shared scalars; nothing
// row-specific is ever transmitted to describe a band.
package partition

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParams = errors.New("partition: invalid params")
	// ErrIdle marks a rank with no rows to search. It is not a failure: the
	// rank leaves the group before any collective on the active set.
	ErrIdle = errors.New("partition: rank has no rows")
)

// DeriveMargin asks the planner to use the pattern overhang as margin.
const DeriveMargin = -1

// Params are the shared scalars the table is derived from.
type Params struct {
	GridSize    int
	PatternSize int
	Workers     int
	Margin      int
}

// Band is one rank's slice of the world. StartRow is a 1-based padded row.
// The local window covers padded rows [StartRow-1, StartRow-1+TotalRows).
type Band struct {
	Rank      int
	StartRow  int
	NumRows   int
	HaloAbove int
	HaloBelow int
	TotalRows int
	// SendUpRow is the local row shipped to the rank above each generation.
	SendUpRow int
	Last      bool
}

// WindowStart is the padded row held in local row 0.
func (b Band) WindowStart() int {
	return b.StartRow - b.HaloAbove
}

// GlobalRow maps a local row to a 0-indexed unpadded world row.
func (b Band) GlobalRow(localRow int) int {
	return b.StartRow + localRow - 1 - b.HaloAbove
}

// OwnedRows returns the 0-indexed unpadded rows [first, last] searched by b.
func (b Band) OwnedRows() (int, int) {
	return b.GlobalRow(1), b.GlobalRow(b.NumRows)
}

func (p Params) margin() int {
	if p.Margin == DeriveMargin {
		return p.PatternSize - 1
	}
	return p.Margin
}

func (p Params) Validate() error {
	if p.GridSize < 1 {
		return fmt.Errorf("%w: grid size %d", ErrInvalidParams, p.GridSize)
	}
	if p.PatternSize < 1 {
		return fmt.Errorf("%w: pattern size %d", ErrInvalidParams, p.PatternSize)
	}
	if p.Workers < 1 {
		return fmt.Errorf("%w: workers %d", ErrInvalidParams, p.Workers)
	}
	if m := p.margin(); m < p.PatternSize-1 {
		return fmt.Errorf("%w: margin %d smaller than pattern overhang %d", ErrInvalidParams, m, p.PatternSize-1)
	}
	return nil
}

// Searchable is the number of rows that may hold a pattern's top-left corner.
func (p Params) Searchable() int {
	return max(1, p.GridSize-p.margin())
}

func (p Params) RowsPerWorker() int {
	return ceilDiv(p.Searchable(), p.Workers)
}

// ActiveWorkers is the number of ranks that own at least one row.
func (p Params) ActiveWorkers() int {
	return ceilDiv(p.Searchable(), p.RowsPerWorker())
}

// Plan computes the band of rank. Idle ranks get ErrIdle.
func Plan(p Params, rank int) (Band, error) {
	if err := p.Validate(); err != nil {
		return Band{}, err
	}
	if rank < 0 || rank >= p.Workers {
		return Band{}, fmt.Errorf("%w: rank %d of %d", ErrInvalidParams, rank, p.Workers)
	}
	searchable := p.Searchable()
	perWorker := p.RowsPerWorker()

	b := Band{Rank: rank, HaloAbove: 1}
	b.StartRow = rank*perWorker + 1
	b.NumRows = min(perWorker, searchable-b.StartRow+1)
	if b.NumRows < 1 {
		return Band{Rank: rank}, ErrIdle
	}
	overhang := max(p.PatternSize-1, 1)
	b.SendUpRow = overhang
	b.Last = rank == p.ActiveWorkers()-1
	if b.Last {
		// Reach the dead bottom border so every real row is evolved locally.
		b.HaloBelow = p.GridSize + 2 - b.StartRow - b.NumRows
	} else {
		b.HaloBelow = overhang
	}
	b.TotalRows = b.HaloAbove + b.NumRows + b.HaloBelow
	return b, nil
}

// Table returns the bands of every active rank in rank order.
func Table(p Params) ([]Band, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	active := p.ActiveWorkers()
	out := make([]Band, 0, active)
	for rank := 0; rank < active; rank++ {
		b, err := Plan(p, rank)
		if err != nil {
			return nil, fmt.Errorf("partition: rank %d: %w", rank, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
