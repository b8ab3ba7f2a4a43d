package main

import (
	"fmt"

	"github.com/danmuck/setl/internal/aggregate"
	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/life"
	"github.com/danmuck/setl/internal/match"
	"github.com/danmuck/setl/internal/partition"
	"github.com/danmuck/setl/internal/worker"
)

// tee forwards aggregated output to two sinks.
type tee struct {
	a, b aggregate.Sink
}

func (t tee) Total(n uint64) error {
	if err := t.a.Total(n); err != nil {
		return err
	}
	return t.b.Total(n)
}

func (t tee) Emit(rec match.Record) error {
	if err := t.a.Emit(rec); err != nil {
		return err
	}
	return t.b.Emit(rec)
}

// sequential searches the whole world on one rank. A single band spans the
// full padded world, so its window is the world itself.
func sequential(in *worker.Input) ([]match.Record, error) {
	params := partition.Params{
		GridSize:    in.GridSize(),
		PatternSize: in.Pattern.Rows(),
		Workers:     1,
		Margin:      in.Margin,
	}
	band, err := partition.Plan(params, 0)
	if err != nil {
		return nil, err
	}
	rotations, err := grid.Rotations(in.Pattern)
	if err != nil {
		return nil, err
	}
	m, err := match.NewMatcher(band, params.GridSize, rotations)
	if err != nil {
		return nil, err
	}
	var out []match.Record
	world := in.World.Clone()
	for g := 0; g < in.Generations; g++ {
		m.Scan(g, world, func(rec match.Record) { out = append(out, rec) })
		world = life.EvolveWorld(world, 1)
	}
	return out, nil
}

func verify(in *worker.Input, got []match.Record) error {
	want, err := sequential(in)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if len(got) != len(want) {
		return fmt.Errorf("verify: %d records, single-process search found %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("verify: record %d is %s, want %s", i, got[i], want[i])
		}
	}
	return nil
}
