package comm

import (
	"context"
	"fmt"
	"sync"
)

type envelope struct {
	src     int
	tag     Tag
	payload []byte
}

// mailbox is the receive side of one endpoint. Every state change closes
// the current signal channel and installs a new one, waking all waiters.
type mailbox struct {
	mu     sync.Mutex
	queue  []envelope
	signal chan struct{}
	peers  map[int]error
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{
		signal: make(chan struct{}),
		peers:  make(map[int]error),
	}
}

func (m *mailbox) notifyLocked() {
	close(m.signal)
	m.signal = make(chan struct{})
}

// put takes ownership of env.payload.
func (m *mailbox) put(env envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, env)
	m.notifyLocked()
}

// closePeer records that src will send nothing more. Messages already
// queued from src stay deliverable.
func (m *mailbox) closePeer(src int, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[src]; ok {
		return
	}
	m.peers[src] = cause
	m.notifyLocked()
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	m.notifyLocked()
}

// wait returns the oldest message from src with tag, removing it when
// consume is set.
func (m *mailbox) wait(ctx context.Context, src int, tag Tag, consume bool) (envelope, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return envelope{}, ErrClosed
		}
		for i, env := range m.queue {
			if env.src != src || env.tag != tag {
				continue
			}
			if consume {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
			}
			m.mu.Unlock()
			return env, nil
		}
		if cause, gone := m.peers[src]; gone {
			m.mu.Unlock()
			if cause != nil {
				return envelope{}, fmt.Errorf("%w: rank %d waiting for %s: %v", ErrPeerClosed, src, tag, cause)
			}
			return envelope{}, fmt.Errorf("%w: rank %d waiting for %s", ErrPeerClosed, src, tag)
		}
		signal := m.signal
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return envelope{}, ctx.Err()
		case <-signal:
		}
	}
}
