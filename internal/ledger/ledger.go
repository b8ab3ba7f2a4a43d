// Package ledger holds one worker's match records until aggregation.
package ledger

import (
	"errors"
	"fmt"

	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/match"
)

var (
	ErrOutOfOrder = errors.New("ledger: record breaks generation/rotation order")
	ErrReleased   = errors.New("ledger: released")
)

// Ledger is append-only while scanning and read once, front to back, while
// aggregating.
type Ledger struct {
	records  []match.Record
	cursor   int
	released bool
}

func New() *Ledger {
	return &Ledger{}
}

// Append adds rec after every record already held. Records must arrive in
// non-decreasing (generation, rotation) order.
func (l *Ledger) Append(rec match.Record) error {
	if l.released {
		return ErrReleased
	}
	if n := len(l.records); n > 0 && rec.Key().Less(l.records[n-1].Key()) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, rec, l.records[n-1])
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *Ledger) Len() int {
	return len(l.records)
}

// Remaining counts records not yet taken.
func (l *Ledger) Remaining() int {
	return len(l.records) - l.cursor
}

// TakeRun returns the records for (generation, rotation) at the cursor and
// advances past them. Keys must be taken in ascending order; a key with no
// records yields an empty run. The returned slice aliases the ledger.
func (l *Ledger) TakeRun(generation int, rotation grid.Rotation) []match.Record {
	key := match.Key{Generation: generation, Rotation: rotation}
	start := l.cursor
	end := start
	for end < len(l.records) && l.records[end].Key() == key {
		end++
	}
	l.cursor = end
	return l.records[start:end:end]
}

// Release drops the storage. Runs taken earlier stay valid.
func (l *Ledger) Release() {
	l.records = nil
	l.cursor = 0
	l.released = true
}
