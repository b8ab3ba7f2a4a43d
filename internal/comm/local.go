package comm

import (
	"context"
	"sync"

	"github.com/danmuck/setl/internal/observability"
	"github.com/danmuck/setl/internal/protocol/schema"
)

// LocalEndpoint is one rank of an in-process mesh.
type LocalEndpoint struct {
	rank  int
	boxes []*mailbox
	once  sync.Once
}

// NewLocalMesh returns n connected endpoints indexed by rank. Each is meant
// to be driven by its own goroutine.
func NewLocalMesh(n int) []*LocalEndpoint {
	boxes := make([]*mailbox, n)
	for i := range boxes {
		boxes[i] = newMailbox()
	}
	out := make([]*LocalEndpoint, n)
	for i := range out {
		out[i] = &LocalEndpoint{rank: i, boxes: boxes}
	}
	return out
}

func (e *LocalEndpoint) Rank() int { return e.rank }
func (e *LocalEndpoint) Size() int { return len(e.boxes) }

func (e *LocalEndpoint) Send(ctx context.Context, dst int, tag Tag, payload []byte) error {
	if err := checkRank(dst, len(e.boxes)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	e.boxes[dst].put(envelope{src: e.rank, tag: tag, payload: buf})
	observability.RecordTransportMessage(schema.KindName(tag.Kind))
	return nil
}

func (e *LocalEndpoint) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := checkRank(src, len(e.boxes)); err != nil {
		return nil, err
	}
	env, err := e.boxes[e.rank].wait(ctx, src, tag, true)
	if err != nil {
		return nil, err
	}
	return env.payload, nil
}

func (e *LocalEndpoint) Probe(ctx context.Context, src int, tag Tag) (Status, error) {
	if err := checkRank(src, len(e.boxes)); err != nil {
		return Status{}, err
	}
	env, err := e.boxes[e.rank].wait(ctx, src, tag, false)
	if err != nil {
		return Status{}, err
	}
	return Status{Source: env.src, Tag: env.tag, Size: len(env.payload)}, nil
}

// Close tells every other rank this one sends nothing more and drops its
// own queue.
func (e *LocalEndpoint) Close() error {
	e.once.Do(func() {
		for i, box := range e.boxes {
			if i != e.rank {
				box.closePeer(e.rank, nil)
			}
		}
		e.boxes[e.rank].close()
	})
	return nil
}
