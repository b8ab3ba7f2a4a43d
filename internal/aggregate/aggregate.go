// Package aggregate gathers every active worker's ledger at the coordinator
// in (generation, rotation, rank) order.
package aggregate

import (
	"context"
	"fmt"

	"github.com/danmuck/setl/internal/comm"
	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/ledger"
	"github.com/danmuck/setl/internal/logging"
	"github.com/danmuck/setl/internal/match"
	"github.com/danmuck/setl/internal/protocol/schema"
	"github.com/danmuck/setl/internal/protocol/session"
)

// Coordinator is the rank that receives every record.
const Coordinator = 0

// Sink receives the total first, then every record in order.
type Sink interface {
	Total(n uint64) error
	Emit(rec match.Record) error
}

// Collect must be called by every member of the active group. The
// coordinator drives sink; other members ship their runs key by key and
// never touch it. The ledger is released on return.
func Collect(ctx context.Context, group *comm.Group, l *ledger.Ledger, generations int, sink Sink) error {
	defer l.Release()

	total, err := group.ReduceSum(ctx, Coordinator, comm.Tag{Kind: schema.MsgMatchCount}, uint64(l.Len()))
	if err != nil {
		return fmt.Errorf("aggregate: reduce counts: %w", err)
	}
	if group.Rank() != Coordinator {
		return ship(ctx, group, l, generations)
	}
	if err := sink.Total(total); err != nil {
		return err
	}
	var emitted uint64
	for g := 0; g < generations; g++ {
		for rot := grid.North; rot <= grid.West; rot++ {
			key := match.Key{Generation: g, Rotation: rot}
			for _, rec := range l.TakeRun(g, rot) {
				if err := sink.Emit(rec); err != nil {
					return err
				}
				emitted++
			}
			for src := 0; src < group.Size(); src++ {
				if src == Coordinator {
					continue
				}
				n, err := drain(ctx, group, src, key, sink)
				if err != nil {
					return err
				}
				emitted += n
			}
		}
	}
	if emitted != total {
		return fmt.Errorf("aggregate: emitted %d records, workers reported %d", emitted, total)
	}
	logging.Debugf("aggregate.Collect done total=%d workers=%d", total, group.Size())
	return nil
}

func ship(ctx context.Context, group *comm.Group, l *ledger.Ledger, generations int) error {
	for g := 0; g < generations; g++ {
		for rot := grid.North; rot <= grid.West; rot++ {
			key := match.Key{Generation: g, Rotation: rot}
			payload, err := session.EncodeMatchRun(session.MatchRun{
				Generation: g,
				Rotation:   rot,
				Records:    l.TakeRun(g, rot),
			})
			if err != nil {
				return err
			}
			if err := group.Send(ctx, Coordinator, comm.Tag{Kind: schema.MsgMatchRun, Seq: key.Seq()}, payload); err != nil {
				return fmt.Errorf("aggregate: ship %d:%d: %w", g, rot, err)
			}
		}
	}
	if n := l.Remaining(); n != 0 {
		return fmt.Errorf("aggregate: %d records beyond generation %d", n, generations-1)
	}
	return nil
}

func drain(ctx context.Context, group *comm.Group, src int, key match.Key, sink Sink) (uint64, error) {
	tag := comm.Tag{Kind: schema.MsgMatchRun, Seq: key.Seq()}
	st, err := group.Probe(ctx, src, tag)
	if err != nil {
		return 0, fmt.Errorf("aggregate: probe %s from rank %d: %w", tag, src, err)
	}
	payload, err := group.Recv(ctx, src, tag)
	if err != nil {
		return 0, fmt.Errorf("aggregate: recv %s from rank %d: %w", tag, src, err)
	}
	if len(payload) != st.Size {
		return 0, fmt.Errorf("aggregate: %s from rank %d: probed %d bytes, got %d", tag, src, st.Size, len(payload))
	}
	run, err := session.DecodeMatchRun(payload)
	if err != nil {
		return 0, fmt.Errorf("aggregate: %s from rank %d: %w", tag, src, err)
	}
	if run.Generation != key.Generation || run.Rotation != key.Rotation {
		return 0, fmt.Errorf("aggregate: %s from rank %d carries %d:%d", tag, src, run.Generation, run.Rotation)
	}
	for _, rec := range run.Records {
		if err := sink.Emit(rec); err != nil {
			return 0, err
		}
	}
	return uint64(len(run.Records)), nil
}

// Merge produces the same sequence as Collect from ledgers indexed by rank,
// without any transport.
func Merge(ledgers []*ledger.Ledger, generations int, sink Sink) error {
	var total uint64
	for _, l := range ledgers {
		total += uint64(l.Len())
	}
	if err := sink.Total(total); err != nil {
		return err
	}
	for g := 0; g < generations; g++ {
		for rot := grid.North; rot <= grid.West; rot++ {
			for _, l := range ledgers {
				for _, rec := range l.TakeRun(g, rot) {
					if err := sink.Emit(rec); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Collector is an in-memory Sink.
type Collector struct {
	Count   uint64
	Records []match.Record
}

func (c *Collector) Total(n uint64) error {
	c.Count = n
	return nil
}

func (c *Collector) Emit(rec match.Record) error {
	c.Records = append(c.Records, rec)
	return nil
}
