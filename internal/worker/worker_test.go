package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/setl/internal/aggregate"
	"github.com/danmuck/setl/internal/comm"
	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/life"
	"github.com/danmuck/setl/internal/partition"
	"github.com/danmuck/setl/internal/testutil/gridtest"
	"github.com/danmuck/setl/internal/testutil/testlog"
)

const glider = `
OXO
OOX
XXX`

func mustPattern(t testing.TB, s string) *grid.Grid {
	t.Helper()
	return gridtest.MustParse(t, s)
}

func randomWorld(n int, seed int64) *grid.Grid {
	rng := rand.New(rand.NewSource(seed))
	w := grid.NewWorld(n)
	for r := 1; r <= n; r++ {
		for c := 1; c <= n; c++ {
			if rng.Intn(3) == 0 {
				w.Set(r, c, grid.Alive)
			}
		}
	}
	return w
}

func endpoints(mesh []*comm.LocalEndpoint) []comm.Endpoint {
	out := make([]comm.Endpoint, len(mesh))
	for i, e := range mesh {
		out[i] = e
	}
	return out
}

// runMesh drives one Run per endpoint and closes each endpoint when its
// rank returns, as separate processes would.
func runMesh(t testing.TB, eps []comm.Endpoint, in *Input) ([]Result, []error, *aggregate.Collector) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	out := &aggregate.Collector{}
	results := make([]Result, len(eps))
	errs := make([]error, len(eps))
	var wg sync.WaitGroup
	for rank := range eps {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			defer eps[rank].Close()
			job := Job{}
			if rank == aggregate.Coordinator {
				job.Input = in
				job.Sink = out
			}
			results[rank], errs[rank] = Run(ctx, eps[rank], job)
		}(rank)
	}
	wg.Wait()
	return results, errs, out
}

func runLocal(t testing.TB, workers int, in *Input) ([]Result, *aggregate.Collector) {
	t.Helper()
	results, errs, out := runMesh(t, endpoints(comm.NewLocalMesh(workers)), in)
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("w=%d rank %d: %v", workers, rank, err)
		}
	}
	return results, out
}

func TestGliderEndToEnd(t *testing.T) {
	testlog.Start(t)
	p := mustPattern(t, glider)
	world := grid.NewWorld(8)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			world.Set(3+i, 3+j, p.At(i, j))
		}
	}
	for workers := 1; workers <= 4; workers++ {
		_, out := runLocal(t, workers, &Input{World: world, Pattern: p, Generations: 1, Margin: partition.DeriveMargin})
		if out.Count != 1 || len(out.Records) != 1 || out.Records[0].String() != "0:2:2:0" {
			t.Fatalf("w=%d: total=%d records=%v", workers, out.Count, out.Records)
		}
	}
}

func TestIdleWorkersAreExcluded(t *testing.T) {
	testlog.Start(t)
	// N=7, P=3 gives five searchable rows; eight workers leave three idle.
	world := randomWorld(7, 3)
	results, _ := runLocal(t, 8, &Input{World: world, Pattern: mustPattern(t, glider), Generations: 3, Margin: partition.DeriveMargin})
	idle := 0
	for _, r := range results {
		if r.Idle {
			idle++
		}
	}
	if idle != 3 {
		t.Fatalf("idle=%d want 3", idle)
	}
}

func TestEvolutionMatchesUnpartitionedWorld(t *testing.T) {
	testlog.Start(t)
	const n, generations = 13, 6
	world := randomWorld(n, 42)
	want := life.EvolveWorld(world, generations)
	pattern := mustPattern(t, glider)
	for _, margin := range []int{partition.DeriveMargin, 4} {
		for workers := 1; workers <= 7; workers++ {
			results, _ := runLocal(t, workers, &Input{World: world, Pattern: pattern, Generations: generations, Margin: margin})
			covered := 0
			for _, r := range results {
				if r.Idle {
					continue
				}
				rows, err := want.RowRange(r.Band.WindowStart(), r.Band.WindowStart()+r.Band.TotalRows)
				if err != nil {
					t.Fatalf("row range: %v", err)
				}
				ref, _ := grid.FromBytes(r.Band.TotalRows, n+2, rows)
				if !gridtest.Equal(r.Window, ref) {
					t.Fatalf("margin=%d w=%d rank %d window diverged:\n%s\nwant:\n%s", margin, workers, r.Rank, r.Window, ref)
				}
				covered += r.Band.NumRows
			}
			if covered == 0 {
				t.Fatalf("margin=%d w=%d: nothing covered", margin, workers)
			}
		}
	}
}

func TestRecordsIndependentOfWorkerCount(t *testing.T) {
	testlog.Start(t)
	const n, generations = 16, 8
	world := randomWorld(n, 7)
	pattern := mustPattern(t, `
XO
OX`)
	_, base := runLocal(t, 1, &Input{World: world, Pattern: pattern, Generations: generations, Margin: partition.DeriveMargin})
	if base.Count == 0 {
		t.Fatalf("fixture should produce matches")
	}
	for workers := 2; workers <= 6; workers++ {
		_, got := runLocal(t, workers, &Input{World: world, Pattern: pattern, Generations: generations, Margin: partition.DeriveMargin})
		if got.Count != base.Count || len(got.Records) != len(base.Records) {
			t.Fatalf("w=%d: total=%d want %d", workers, got.Count, base.Count)
		}
		for i := range base.Records {
			if got.Records[i] != base.Records[i] {
				t.Fatalf("w=%d record %d=%s want %s", workers, i, got.Records[i], base.Records[i])
			}
		}
	}
}

func TestSinglePatternCellCountsLiveCells(t *testing.T) {
	testlog.Start(t)
	const n = 9
	world := randomWorld(n, 11)
	_, out := runLocal(t, 3, &Input{World: world, Pattern: mustPattern(t, "X"), Generations: 1, Margin: partition.DeriveMargin})
	// Every live cell matches all four rotations of a 1x1 pattern.
	if want := uint64(4 * world.LiveCount()); out.Count != want {
		t.Fatalf("total=%d want %d", out.Count, want)
	}
}

func TestAbortReachesEveryRank(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mesh := comm.NewLocalMesh(3)
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for rank := 1; rank < 3; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			_, errs[rank] = Run(ctx, mesh[rank], Job{})
		}(rank)
	}
	if err := Abort(ctx, mesh[0], errors.New("open world.txt: no such file")); err != nil {
		t.Fatalf("abort: %v", err)
	}
	wg.Wait()
	for rank := 1; rank < 3; rank++ {
		if !errors.Is(errs[rank], ErrAborted) {
			t.Fatalf("rank %d: expected ErrAborted, got %v", rank, errs[rank])
		}
	}
}

func TestInvalidMarginAbortsRun(t *testing.T) {
	testlog.Start(t)
	_, errs, _ := runMesh(t, endpoints(comm.NewLocalMesh(2)), &Input{
		World:       grid.NewWorld(6),
		Pattern:     mustPattern(t, glider),
		Generations: 1,
		Margin:      1,
	})
	if !errors.Is(errs[0], partition.ErrInvalidParams) {
		t.Fatalf("coordinator: expected ErrInvalidParams, got %v", errs[0])
	}
	if !errors.Is(errs[1], ErrAborted) {
		t.Fatalf("worker: expected ErrAborted, got %v", errs[1])
	}
}

func TestCoordinatorWithoutSinkAbortsRun(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mesh := comm.NewLocalMesh(2)
	var wg sync.WaitGroup
	var workerErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, workerErr = Run(ctx, mesh[1], Job{})
	}()
	_, err := Run(ctx, mesh[0], Job{Input: &Input{
		World:       grid.NewWorld(6),
		Pattern:     mustPattern(t, glider),
		Generations: 1,
		Margin:      partition.DeriveMargin,
	}})
	wg.Wait()
	if !errors.Is(err, ErrBadInput) {
		t.Fatalf("coordinator: expected ErrBadInput, got %v", err)
	}
	if !errors.Is(workerErr, ErrAborted) {
		t.Fatalf("worker: expected ErrAborted, got %v", workerErr)
	}
}

func TestRunOverTCPMesh(t *testing.T) {
	testlog.Start(t)
	const n = 3
	listeners := make([]net.Listener, n)
	peers := make([]string, n)
	for i := range listeners {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		listeners[i] = ln
		peers[i] = ln.Addr().String()
	}
	eps := make([]comm.Endpoint, n)
	var wg sync.WaitGroup
	dialErrs := make([]error, n)
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ep, err := comm.DialMesh(context.Background(), comm.TCPConfig{Rank: rank, Peers: peers, Listener: listeners[rank]})
			dialErrs[rank] = err
			if err == nil {
				eps[rank] = ep
			}
		}(rank)
	}
	wg.Wait()
	for rank, err := range dialErrs {
		if err != nil {
			t.Fatalf("rank %d dial: %v", rank, err)
		}
	}

	world := randomWorld(10, 5)
	in := &Input{World: world, Pattern: mustPattern(t, glider), Generations: 4, Margin: partition.DeriveMargin}
	_, errs, got := runMesh(t, eps, in)
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
	_, want := runLocal(t, 1, in)
	if got.Count != want.Count || len(got.Records) != len(want.Records) {
		t.Fatalf("tcp total=%d local total=%d", got.Count, want.Count)
	}
}

func BenchmarkRun(b *testing.B) {
	b.ReportAllocs()
	pattern := gridtest.MustParse(b, glider)
	for _, size := range []int{64, 256} {
		for _, workers := range []int{1, 4, 8} {
			const generations = 10
			world := randomWorld(size, 1)
			in := &Input{World: world, Pattern: pattern, Generations: generations, Margin: partition.DeriveMargin}
			b.Run(fmt.Sprintf("%dx%dx%d-%d", size, size, generations, workers), func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					runLocal(b, workers, in)
				}
			})
		}
	}
}
