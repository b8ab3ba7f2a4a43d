// Package halo refreshes the boundary rows of a worker's window after each
// evolution step.
package halo

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/setl/internal/comm"
	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/observability"
	"github.com/danmuck/setl/internal/partition"
	"github.com/danmuck/setl/internal/protocol/schema"
	"github.com/danmuck/setl/internal/protocol/session"
)

var ErrMalformedHalo = errors.New("halo: malformed halo row")

// Exchanger swaps rows with the neighbors of one band inside the active group.
type Exchanger struct {
	group *comm.Group
	band  partition.Band
}

func NewExchanger(group *comm.Group, band partition.Band) *Exchanger {
	return &Exchanger{group: group, band: band}
}

// Exchange sends this band's boundary rows to its neighbors and then blocks
// until both of its own halo rows for generation have arrived. Sends never
// wait for the receiver, so neighbors cannot deadlock on each other.
func (x *Exchanger) Exchange(ctx context.Context, generation int, window *grid.Grid) error {
	rank := x.band.Rank
	seq := uint64(generation)
	hasAbove := rank > 0
	hasBelow := !x.band.Last

	if hasBelow {
		if err := x.send(ctx, rank+1, schema.MsgHaloDown, generation, interior(window.Row(x.band.NumRows))); err != nil {
			return err
		}
		observability.RecordHaloRow(rank, "down")
	}
	if hasAbove {
		if err := x.send(ctx, rank-1, schema.MsgHaloUp, generation, interior(window.Row(x.band.SendUpRow))); err != nil {
			return err
		}
		observability.RecordHaloRow(rank, "up")
	}
	if hasAbove {
		if err := x.recv(ctx, rank-1, comm.Tag{Kind: schema.MsgHaloDown, Seq: seq}, generation, interior(window.Row(0))); err != nil {
			return err
		}
	}
	if hasBelow {
		if err := x.recv(ctx, rank+1, comm.Tag{Kind: schema.MsgHaloUp, Seq: seq}, generation, interior(window.Row(x.band.TotalRows-1))); err != nil {
			return err
		}
	}
	return nil
}

func (x *Exchanger) send(ctx context.Context, dst int, kind uint32, generation int, row []byte) error {
	payload, err := session.EncodeHalo(kind, session.Halo{Generation: generation, Cells: row})
	if err != nil {
		return err
	}
	tag := comm.Tag{Kind: kind, Seq: uint64(generation)}
	if err := x.group.Send(ctx, dst, tag, payload); err != nil {
		return fmt.Errorf("halo: send %s to rank %d: %w", tag, dst, err)
	}
	return nil
}

// interior drops the dead border columns, which never change.
func interior(row []byte) []byte {
	return row[1 : len(row)-1]
}

// recv copies the received row into dst in place.
func (x *Exchanger) recv(ctx context.Context, src int, tag comm.Tag, generation int, dst []byte) error {
	payload, err := x.group.Recv(ctx, src, tag)
	if err != nil {
		return fmt.Errorf("halo: recv %s from rank %d: %w", tag, src, err)
	}
	h, err := session.DecodeHalo(tag.Kind, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHalo, err)
	}
	if h.Generation != generation {
		return fmt.Errorf("%w: generation %d on %s", ErrMalformedHalo, h.Generation, tag)
	}
	if len(h.Cells) != len(dst) {
		return fmt.Errorf("%w: width %d want %d", ErrMalformedHalo, len(h.Cells), len(dst))
	}
	copy(dst, h.Cells)
	return nil
}
