// Package comm moves tagged byte payloads between numbered workers.
//
// Every message is addressed by (source, destination, tag). Sends enqueue
// and return; receives block until a payload with the exact source and tag
// arrives. Payloads are always copied, so workers never share buffers.
package comm

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/setl/internal/protocol/schema"
)

var (
	ErrClosed     = errors.New("comm: endpoint closed")
	ErrPeerClosed = errors.New("comm: peer connection closed")
	ErrBadRank    = errors.New("comm: rank out of range")
	ErrNotMember  = errors.New("comm: rank not in group")
)

// Tag is the message key matched by Recv and Probe. Kind is a schema
// message kind and Seq its per-kind sequence.
type Tag struct {
	Kind uint32
	Seq  uint64
}

func (t Tag) String() string {
	return fmt.Sprintf("%s/%d", schema.KindName(t.Kind), t.Seq)
}

// Status describes a pending message found by Probe.
type Status struct {
	Source int
	Tag    Tag
	Size   int
}

// Endpoint is one worker's view of the mesh.
type Endpoint interface {
	Rank() int
	Size() int
	// Send enqueues a copy of payload for dst and does not wait for the
	// receiver.
	Send(ctx context.Context, dst int, tag Tag, payload []byte) error
	// Recv blocks until a message from src with tag is available and
	// consumes it. Messages with equal (src, tag) are delivered in send order.
	Recv(ctx context.Context, src int, tag Tag) ([]byte, error)
	// Probe blocks like Recv but leaves the message queued.
	Probe(ctx context.Context, src int, tag Tag) (Status, error)
	Close() error
}

func checkRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return fmt.Errorf("%w: %d of %d", ErrBadRank, rank, size)
	}
	return nil
}
