package halo

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/setl/internal/comm"
	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/partition"
	"github.com/danmuck/setl/internal/protocol/schema"
	"github.com/danmuck/setl/internal/protocol/session"
	"github.com/danmuck/setl/internal/protocol/tlv"
	"github.com/danmuck/setl/internal/testutil/testlog"
)

func fill(g *grid.Grid, row int, cells string) {
	copy(g.Row(row), cells)
}

func TestExchangeRefreshesNeighbourRows(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// N=4, P=2, W=2: rank 0 owns padded rows 1-2, rank 1 owns row 3.
	params := partition.Params{GridSize: 4, PatternSize: 2, Workers: 2, Margin: partition.DeriveMargin}
	bands, err := partition.Table(params)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	mesh := comm.NewLocalMesh(2)
	windows := []*grid.Grid{
		grid.New(bands[0].TotalRows, 6),
		grid.New(bands[1].TotalRows, 6),
	}
	fill(windows[0], bands[0].NumRows, "OXOXXO")
	fill(windows[1], bands[1].SendUpRow, "OOXXOO")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for rank := range bands {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			x := NewExchanger(comm.World(mesh[rank]), bands[rank])
			errs[rank] = x.Exchange(ctx, 3, windows[rank])
		}(rank)
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}

	if got := windows[1].Row(0); !bytes.Equal(got, []byte("OXOXXO")) {
		t.Fatalf("rank 1 top halo=%q", got)
	}
	if got := windows[0].Row(bands[0].TotalRows - 1); !bytes.Equal(got, []byte("OOXXOO")) {
		t.Fatalf("rank 0 bottom halo=%q", got)
	}
	if got := windows[0].Row(0); !bytes.Equal(got, []byte("OOOOOO")) {
		t.Fatalf("rank 0 top border changed: %q", got)
	}
}

func TestExchangeRejectsWrongGeneration(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params := partition.Params{GridSize: 4, PatternSize: 2, Workers: 2, Margin: partition.DeriveMargin}
	bands, err := partition.Table(params)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	mesh := comm.NewLocalMesh(2)
	payload, err := session.EncodeHalo(schema.MsgHaloDown, session.Halo{Generation: 9, Cells: []byte("OOOO")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Tagged for generation 1 but carrying generation 9.
	if err := mesh[0].Send(ctx, 1, comm.Tag{Kind: schema.MsgHaloDown, Seq: 1}, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	x := NewExchanger(comm.World(mesh[1]), bands[1])
	err = x.Exchange(ctx, 1, grid.New(bands[1].TotalRows, 6))
	if !errors.Is(err, ErrMalformedHalo) {
		t.Fatalf("expected ErrMalformedHalo, got %v", err)
	}
}

func TestExchangeRejectsTruncatedGenerationField(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params := partition.Params{GridSize: 4, PatternSize: 2, Workers: 2, Margin: partition.DeriveMargin}
	bands, err := partition.Table(params)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	mesh := comm.NewLocalMesh(2)
	// A two-byte generation must not read as generation 0.
	payload := tlv.EncodeFields([]tlv.Field{
		{ID: schema.FieldGeneration, Type: tlv.TypeU32, Value: []byte{0, 7}},
		tlv.NewBytes(schema.FieldCells, []byte("OOOO")),
	})
	if err := mesh[0].Send(ctx, 1, comm.Tag{Kind: schema.MsgHaloDown, Seq: 0}, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	x := NewExchanger(comm.World(mesh[1]), bands[1])
	err = x.Exchange(ctx, 0, grid.New(bands[1].TotalRows, 6))
	if !errors.Is(err, ErrMalformedHalo) {
		t.Fatalf("expected ErrMalformedHalo, got %v", err)
	}
}
