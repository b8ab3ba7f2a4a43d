package life

import (
	"testing"

	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/testutil/gridtest"
	"github.com/danmuck/setl/internal/testutil/testlog"
)

func mustParse(t *testing.T, s string) *grid.Grid {
	t.Helper()
	return gridtest.MustParse(t, s)
}

func TestNextRule(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		alive bool
		n     int
		want  bool
	}{
		{false, 2, false},
		{false, 3, true},
		{false, 4, false},
		{true, 1, false},
		{true, 2, true},
		{true, 3, true},
		{true, 4, false},
		{true, 8, false},
	}
	for _, tc := range cases {
		if got := Next(tc.alive, tc.n); got != tc.want {
			t.Fatalf("Next(%v, %d)=%v want %v", tc.alive, tc.n, got, tc.want)
		}
	}
}

func TestCountNeighbours(t *testing.T) {
	testlog.Start(t)
	g := mustParse(t, `
XXX
XOX
XXX`)
	if n := CountNeighbours(g, 1, 1); n != 8 {
		t.Fatalf("n=%d want 8", n)
	}
}

func TestBlinkerOscillates(t *testing.T) {
	testlog.Start(t)
	horizontal := mustParse(t, `
OOOOO
OOOOO
OXXXO
OOOOO
OOOOO`)
	vertical := mustParse(t, `
OOOOO
OOXOO
OOXOO
OOXOO
OOOOO`)
	if got := EvolveWorld(horizontal, 1); !gridtest.Equal(got, vertical) {
		t.Fatalf("after 1:\n%s", got)
	}
	if got := EvolveWorld(horizontal, 2); !gridtest.Equal(got, horizontal) {
		t.Fatalf("after 2:\n%s", got)
	}
}

func TestEvolveLeavesOuterRingUntouched(t *testing.T) {
	testlog.Start(t)
	cur := mustParse(t, `
XXXX
XOOX
XOOX
XXXX`)
	next := grid.New(4, 4)
	Evolve(cur, next)
	for col := 0; col < 4; col++ {
		if next.At(0, col) != grid.Dead || next.At(3, col) != grid.Dead {
			t.Fatalf("outer ring written:\n%s", next)
		}
	}
	// Each interior cell sees five live ring cells.
	if next.LiveCount() != 0 {
		t.Fatalf("interior should die:\n%s", next)
	}
}

func TestEngineSwapsWithoutCopy(t *testing.T) {
	testlog.Start(t)
	w := mustParse(t, `
OOOO
OXXO
OXXO
OOOO`)
	e := NewEngine(w)
	first := e.Current()
	e.Step()
	if e.Current() == first {
		t.Fatalf("buffers not swapped")
	}
	e.Step()
	if e.Current() != first {
		t.Fatalf("second step should return to the first buffer")
	}
	if e.Current().LiveCount() != 4 {
		t.Fatalf("block should be still:\n%s", e.Current())
	}
}

func TestGliderTranslates(t *testing.T) {
	testlog.Start(t)
	world := grid.NewWorld(8)
	for _, c := range [][2]int{{1, 2}, {2, 3}, {3, 1}, {3, 2}, {3, 3}} {
		world.Set(c[0], c[1], grid.Alive)
	}
	got := EvolveWorld(world, 4)
	want := grid.NewWorld(8)
	for _, c := range [][2]int{{2, 3}, {3, 4}, {4, 2}, {4, 3}, {4, 4}} {
		want.Set(c[0], c[1], grid.Alive)
	}
	if !gridtest.Equal(got, want) {
		t.Fatalf("glider after 4:\n%s", got)
	}
	if world.LiveCount() != 5 || !world.IsAlive(1, 2) {
		t.Fatalf("EvolveWorld mutated its input")
	}
}
