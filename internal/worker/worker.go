// Package worker runs one rank of a distributed search: initial
// distribution, the generation loop and aggregation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/setl/internal/aggregate"
	"github.com/danmuck/setl/internal/comm"
	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/halo"
	"github.com/danmuck/setl/internal/ledger"
	"github.com/danmuck/setl/internal/life"
	"github.com/danmuck/setl/internal/logging"
	"github.com/danmuck/setl/internal/match"
	"github.com/danmuck/setl/internal/observability"
	"github.com/danmuck/setl/internal/partition"
	"github.com/danmuck/setl/internal/protocol/schema"
	"github.com/danmuck/setl/internal/protocol/session"
)

var (
	ErrAborted    = errors.New("worker: run aborted by coordinator")
	ErrBadInput   = errors.New("worker: invalid input")
	ErrBadPayload = errors.New("worker: unexpected distribution payload")
)

// Input is what the coordinator loaded. Other ranks pass nil.
type Input struct {
	World       *grid.Grid
	Pattern     *grid.Grid
	Generations int
	// Margin is partition.DeriveMargin or an explicit search margin.
	Margin int
}

// GridSize is the unpadded world size.
func (in *Input) GridSize() int {
	return in.World.Rows() - 2
}

func (in *Input) validate() error {
	if in.World == nil || in.Pattern == nil {
		return fmt.Errorf("%w: missing world or pattern", ErrBadInput)
	}
	if in.World.Rows() != in.World.Cols() || in.World.Rows() < 3 {
		return fmt.Errorf("%w: world %dx%d", ErrBadInput, in.World.Rows(), in.World.Cols())
	}
	if in.Pattern.Rows() != in.Pattern.Cols() || in.Pattern.Rows() < 1 {
		return fmt.Errorf("%w: pattern %dx%d", ErrBadInput, in.Pattern.Rows(), in.Pattern.Cols())
	}
	if in.Generations < 0 {
		return fmt.Errorf("%w: generations %d", ErrBadInput, in.Generations)
	}
	return nil
}

// Job configures Run. Sink and Input are only read on the coordinator.
type Job struct {
	Input *Input
	Sink  aggregate.Sink
	// Progress, when set, is called after every completed generation.
	Progress func(rank, generation int)
}

// Context is the explicit per-worker state shared by the run phases.
type Context struct {
	Rank   int
	Active int
	Band   partition.Band
	Group  *comm.Group
	Params partition.Params
}

// Result is what a rank ends with. Idle ranks only carry Rank and Idle.
type Result struct {
	Rank    int
	Idle    bool
	Band    partition.Band
	Window  *grid.Grid
	Matches int
}

var (
	scalarsTag = comm.Tag{Kind: schema.MsgScalars}
)

// Run executes one rank. Every launched rank must call it with an endpoint
// of the same mesh.
func Run(ctx context.Context, ep comm.Endpoint, job Job) (Result, error) {
	world := comm.World(ep)
	rank := ep.Rank()
	log := logging.With("worker").With().Int("rank", rank).Logger()

	scalars, err := shareScalars(ctx, world, job)
	if err != nil {
		return Result{Rank: rank}, err
	}
	params := partition.Params{
		GridSize:    scalars.GridSize,
		PatternSize: scalars.PatternSize,
		Workers:     world.Size(),
		Margin:      scalars.Margin,
	}
	band, err := partition.Plan(params, rank)
	if errors.Is(err, partition.ErrIdle) {
		log.Info().Int("active", params.ActiveWorkers()).Msg("worker.Run idle")
		return Result{Rank: rank, Idle: true}, nil
	}
	if err != nil {
		return Result{Rank: rank}, err
	}
	active, err := world.Shrink(params.ActiveWorkers())
	if err != nil {
		return Result{Rank: rank}, err
	}
	wc := Context{
		Rank:   rank,
		Active: active.Size(),
		Band:   band,
		Group:  active,
		Params: params,
	}
	first, last := band.OwnedRows()
	log.Debug().
		Int("first_row", first).
		Int("last_row", last).
		Int("start_row", band.StartRow).
		Int("rows", band.NumRows).
		Int("total_rows", band.TotalRows).
		Int("active", wc.Active).
		Msg("worker.Run planned")

	rotations, err := sharePattern(ctx, wc, job.Input)
	if err != nil {
		return Result{Rank: rank}, err
	}
	window, err := distribute(ctx, wc, job.Input)
	if err != nil {
		return Result{Rank: rank}, err
	}

	res, l, err := evolve(ctx, wc, scalars.Generations, window, rotations, job.Progress)
	if err != nil {
		return res, err
	}
	var sink aggregate.Sink
	if rank == aggregate.Coordinator {
		sink = job.Sink
	}
	if err := aggregate.Collect(ctx, active, l, scalars.Generations, sink); err != nil {
		return res, err
	}
	log.Debug().Int("matches", res.Matches).Msg("worker.Run done")
	return res, nil
}

// Abort tells every launched rank that the coordinator cannot start the run.
// Only the coordinator calls it, in place of Run.
func Abort(ctx context.Context, ep comm.Endpoint, reason error) error {
	payload, err := session.EncodeScalars(session.Scalars{Abort: reason.Error()})
	if err != nil {
		return err
	}
	_, err = comm.World(ep).Bcast(ctx, aggregate.Coordinator, scalarsTag, payload)
	return err
}

func shareScalars(ctx context.Context, world *comm.Group, job Job) (session.Scalars, error) {
	if world.Rank() != aggregate.Coordinator {
		payload, err := world.Bcast(ctx, aggregate.Coordinator, scalarsTag, nil)
		if err != nil {
			return session.Scalars{}, err
		}
		s, err := session.DecodeScalars(payload)
		if err != nil {
			return session.Scalars{}, err
		}
		if s.Abort != "" {
			return session.Scalars{}, fmt.Errorf("%w: %s", ErrAborted, s.Abort)
		}
		return s, nil
	}

	var err error
	switch {
	case job.Input == nil:
		err = fmt.Errorf("%w: coordinator has no input", ErrBadInput)
	case job.Sink == nil:
		err = fmt.Errorf("%w: coordinator has no sink", ErrBadInput)
	}
	if err != nil {
		_ = Abort(ctx, world.Endpoint(), err)
		return session.Scalars{}, err
	}
	s, err := resolveScalars(job.Input, world.Size())
	if err != nil {
		_ = Abort(ctx, world.Endpoint(), err)
		return session.Scalars{}, err
	}
	payload, err := session.EncodeScalars(s)
	if err != nil {
		return session.Scalars{}, err
	}
	if _, err := world.Bcast(ctx, aggregate.Coordinator, scalarsTag, payload); err != nil {
		return session.Scalars{}, err
	}
	return s, nil
}

func resolveScalars(in *Input, workers int) (session.Scalars, error) {
	if err := in.validate(); err != nil {
		return session.Scalars{}, err
	}
	s := session.Scalars{
		GridSize:    in.GridSize(),
		PatternSize: in.Pattern.Rows(),
		Generations: in.Generations,
		Margin:      in.Margin,
	}
	if s.Margin == partition.DeriveMargin {
		s.Margin = s.PatternSize - 1
	}
	params := partition.Params{GridSize: s.GridSize, PatternSize: s.PatternSize, Workers: workers, Margin: s.Margin}
	if err := params.Validate(); err != nil {
		return session.Scalars{}, err
	}
	return s, nil
}

// sharePattern broadcasts the four rotations, computed once at the
// coordinator, over the active group.
func sharePattern(ctx context.Context, wc Context, in *Input) ([grid.NumRotations]*grid.Grid, error) {
	var rotations [grid.NumRotations]*grid.Grid
	if wc.Rank == aggregate.Coordinator {
		var err error
		rotations, err = grid.Rotations(in.Pattern)
		if err != nil {
			return rotations, err
		}
	}
	size := wc.Params.PatternSize
	for dir := grid.North; dir <= grid.West; dir++ {
		tag := comm.Tag{Kind: schema.MsgPattern, Seq: uint64(dir)}
		var payload []byte
		if wc.Rank == aggregate.Coordinator {
			var err error
			payload, err = session.EncodePattern(session.Pattern{Rotation: dir, Size: size, Cells: rotations[dir].Bytes()})
			if err != nil {
				return rotations, err
			}
		}
		payload, err := wc.Group.Bcast(ctx, aggregate.Coordinator, tag, payload)
		if err != nil {
			return rotations, fmt.Errorf("worker: pattern %s: %w", dir, err)
		}
		if wc.Rank == aggregate.Coordinator {
			continue
		}
		p, err := session.DecodePattern(payload)
		if err != nil {
			return rotations, err
		}
		if p.Rotation != dir || p.Size != size {
			return rotations, fmt.Errorf("%w: pattern %s size %d on tag %s", ErrBadPayload, p.Rotation, p.Size, tag)
		}
		rotations[dir], err = grid.FromBytes(size, size, p.Cells)
		if err != nil {
			return rotations, err
		}
	}
	return rotations, nil
}

// distribute ships each active rank its window rows as one contiguous slice.
func distribute(ctx context.Context, wc Context, in *Input) (*grid.Grid, error) {
	stride := wc.Params.GridSize + 2
	if wc.Rank != aggregate.Coordinator {
		payload, err := wc.Group.Recv(ctx, aggregate.Coordinator, comm.Tag{Kind: schema.MsgSlice, Seq: uint64(wc.Rank)})
		if err != nil {
			return nil, fmt.Errorf("worker: recv slice: %w", err)
		}
		s, err := session.DecodeSlice(payload)
		if err != nil {
			return nil, err
		}
		if s.StartRow != wc.Band.WindowStart() || s.RowCount != wc.Band.TotalRows || s.Stride != stride {
			return nil, fmt.Errorf("%w: slice rows %d+%d stride %d", ErrBadPayload, s.StartRow, s.RowCount, s.Stride)
		}
		return grid.FromBytes(s.RowCount, s.Stride, s.Cells)
	}

	bands, err := partition.Table(wc.Params)
	if err != nil {
		return nil, err
	}
	var own *grid.Grid
	for _, b := range bands {
		rows, err := in.World.RowRange(b.WindowStart(), b.WindowStart()+b.TotalRows)
		if err != nil {
			return nil, err
		}
		if b.Rank == aggregate.Coordinator {
			cells := make([]byte, len(rows))
			copy(cells, rows)
			if own, err = grid.FromBytes(b.TotalRows, stride, cells); err != nil {
				return nil, err
			}
			continue
		}
		payload, err := session.EncodeSlice(session.Slice{
			StartRow: b.WindowStart(),
			RowCount: b.TotalRows,
			Stride:   stride,
			Cells:    rows,
		})
		if err != nil {
			return nil, err
		}
		if err := wc.Group.Send(ctx, b.Rank, comm.Tag{Kind: schema.MsgSlice, Seq: uint64(b.Rank)}, payload); err != nil {
			return nil, fmt.Errorf("worker: send slice to rank %d: %w", b.Rank, err)
		}
	}
	return own, nil
}

// evolve is the strictly sequential per-generation loop: search the current
// state, evolve it, then refresh the halo rows of the new state.
func evolve(
	ctx context.Context,
	wc Context,
	generations int,
	window *grid.Grid,
	rotations [grid.NumRotations]*grid.Grid,
	progress func(rank, generation int),
) (Result, *ledger.Ledger, error) {
	res := Result{Rank: wc.Rank, Band: wc.Band}
	matcher, err := match.NewMatcher(wc.Band, wc.Params.GridSize, rotations)
	if err != nil {
		return res, nil, err
	}
	engine := life.NewEngine(window)
	exchanger := halo.NewExchanger(wc.Group, wc.Band)
	l := ledger.New()

	var appendErr error
	record := func(r match.Record) {
		if appendErr == nil {
			appendErr = l.Append(r)
		}
	}
	for g := 0; g < generations; g++ {
		start := time.Now()
		found := matcher.Scan(g, engine.Current(), record)
		if appendErr != nil {
			return res, nil, appendErr
		}
		engine.Step()
		if err := exchanger.Exchange(ctx, g, engine.Current()); err != nil {
			return res, nil, err
		}
		res.Matches += found
		observability.RecordMatches(wc.Rank, found)
		observability.RecordGeneration(wc.Rank, time.Since(start))
		if progress != nil {
			progress(wc.Rank, g)
		}
	}
	res.Window = engine.Current()
	return res, l, nil
}
