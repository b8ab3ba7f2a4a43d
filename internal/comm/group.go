package comm

import (
	"context"
	"fmt"

	"github.com/danmuck/setl/internal/protocol/session"
)

// Group is the prefix of ranks [0, size) of an endpoint. Collectives involve
// exactly the members; ranks outside the group are never waited for.
type Group struct {
	ep   Endpoint
	size int
}

// World returns the group of every launched rank.
func World(ep Endpoint) *Group {
	return &Group{ep: ep, size: ep.Size()}
}

// Shrink returns the sub-group of the first n ranks.
func (g *Group) Shrink(n int) (*Group, error) {
	if n < 1 || n > g.size {
		return nil, fmt.Errorf("%w: shrink %d of %d", ErrBadRank, n, g.size)
	}
	return &Group{ep: g.ep, size: n}, nil
}

func (g *Group) Rank() int         { return g.ep.Rank() }
func (g *Group) Endpoint() Endpoint { return g.ep }
func (g *Group) Size() int         { return g.size }

// Member reports whether the local rank belongs to g.
func (g *Group) Member() bool { return g.ep.Rank() < g.size }

func (g *Group) check(peer int) error {
	if !g.Member() {
		return fmt.Errorf("%w: local rank %d of %d", ErrNotMember, g.ep.Rank(), g.size)
	}
	if peer < 0 || peer >= g.size {
		return fmt.Errorf("%w: peer %d of %d", ErrNotMember, peer, g.size)
	}
	return nil
}

func (g *Group) Send(ctx context.Context, dst int, tag Tag, payload []byte) error {
	if err := g.check(dst); err != nil {
		return err
	}
	return g.ep.Send(ctx, dst, tag, payload)
}

func (g *Group) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := g.check(src); err != nil {
		return nil, err
	}
	return g.ep.Recv(ctx, src, tag)
}

func (g *Group) Probe(ctx context.Context, src int, tag Tag) (Status, error) {
	if err := g.check(src); err != nil {
		return Status{}, err
	}
	return g.ep.Probe(ctx, src, tag)
}

// Bcast delivers root's payload to every member. Root gets its own payload
// back; the others get root's.
func (g *Group) Bcast(ctx context.Context, root int, tag Tag, payload []byte) ([]byte, error) {
	if err := g.check(root); err != nil {
		return nil, err
	}
	if g.Rank() != root {
		return g.ep.Recv(ctx, root, tag)
	}
	for dst := 0; dst < g.size; dst++ {
		if dst == root {
			continue
		}
		if err := g.ep.Send(ctx, dst, tag, payload); err != nil {
			return nil, fmt.Errorf("comm: bcast %s to rank %d: %w", tag, dst, err)
		}
	}
	return payload, nil
}

// ReduceSum adds every member's v at root. Only root's result is meaningful;
// the others get their own v back.
func (g *Group) ReduceSum(ctx context.Context, root int, tag Tag, v uint64) (uint64, error) {
	if err := g.check(root); err != nil {
		return 0, err
	}
	if g.Rank() != root {
		payload, err := session.EncodeMatchCount(v)
		if err != nil {
			return 0, err
		}
		return v, g.ep.Send(ctx, root, tag, payload)
	}
	sum := v
	for src := 0; src < g.size; src++ {
		if src == root {
			continue
		}
		payload, err := g.ep.Recv(ctx, src, tag)
		if err != nil {
			return 0, fmt.Errorf("comm: reduce %s from rank %d: %w", tag, src, err)
		}
		n, err := session.DecodeMatchCount(payload)
		if err != nil {
			return 0, fmt.Errorf("comm: reduce %s from rank %d: %w", tag, src, err)
		}
		sum += n
	}
	return sum, nil
}
