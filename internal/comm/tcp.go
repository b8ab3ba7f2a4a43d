package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/setl/internal/logging"
	"github.com/danmuck/setl/internal/observability"
	"github.com/danmuck/setl/internal/protocol/frame"
	"github.com/danmuck/setl/internal/protocol/schema"
	"github.com/danmuck/setl/internal/protocol/session"
)

// TCPConfig describes one rank of a TCP mesh. Peers[i] is the listen address
// of rank i and every rank must be given the same list.
type TCPConfig struct {
	Rank    int
	Peers   []string
	Session session.Config
	Limits  frame.Limits
	// Listener, when set, is used instead of listening on Peers[Rank].
	Listener net.Listener
}

// TCPEndpoint is a rank connected to every other rank by two streams: one it
// writes and one it reads.
type TCPEndpoint struct {
	rank   int
	size   int
	limits frame.Limits
	box    *mailbox
	out    []*peerConn
	in     []net.Conn
	wg     sync.WaitGroup
	once   sync.Once
}

type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

type inboundPeer struct {
	rank   int
	conn   net.Conn
	reader *bufio.Reader
}

// DialMesh listens, dials every other rank and waits until every other rank
// has dialed in. Only the initial dials retry, with backoff. The listener is
// closed before DialMesh returns.
func DialMesh(ctx context.Context, cfg TCPConfig) (*TCPEndpoint, error) {
	size := len(cfg.Peers)
	if err := checkRank(cfg.Rank, size); err != nil {
		return nil, err
	}
	sess := cfg.Session.WithDefaults()
	limits := cfg.Limits
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}

	ln := cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.Peers[cfg.Rank])
		if err != nil {
			return nil, fmt.Errorf("comm: listen rank %d: %w", cfg.Rank, err)
		}
	}
	defer ln.Close()

	e := &TCPEndpoint{
		rank:   cfg.Rank,
		size:   size,
		limits: limits,
		box:    newMailbox(),
		out:    make([]*peerConn, size),
		in:     make([]net.Conn, size),
	}

	ctx, cancel := context.WithTimeout(ctx, sess.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	errs := make(chan error, size)
	var inbound []inboundPeer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		peers, err := acceptPeers(ln, cfg.Rank, size, sess.HandshakeTimeout)
		inbound = peers
		if err != nil {
			errs <- err
			cancel()
		}
	}()
	hello := session.Hello{Rank: cfg.Rank, Size: size}
	for peer := 0; peer < size; peer++ {
		if peer == cfg.Rank {
			continue
		}
		wg.Add(1)
		go func(peer int) {
			defer wg.Done()
			conn, err := dialPeer(ctx, cfg.Peers[peer], hello, sess)
			if err != nil {
				errs <- fmt.Errorf("comm: dial rank %d at %s: %w", peer, cfg.Peers[peer], err)
				cancel()
				return
			}
			e.out[peer] = &peerConn{conn: conn}
		}(peer)
	}
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		for _, p := range inbound {
			_ = p.conn.Close()
		}
		for _, pc := range e.out {
			if pc != nil {
				_ = pc.conn.Close()
			}
		}
		logging.Errf("comm.DialMesh rank=%d err=%v", cfg.Rank, err)
		return nil, err
	}

	for _, p := range inbound {
		e.in[p.rank] = p.conn
		e.wg.Add(1)
		go e.readLoop(p.rank, p.reader)
	}
	logging.Infof("comm.DialMesh ready rank=%d size=%d", cfg.Rank, size)
	return e, nil
}

// acceptPeers returns once every other rank has introduced itself.
func acceptPeers(ln net.Listener, self, size int, timeout time.Duration) ([]inboundPeer, error) {
	seen := make(map[int]bool, size)
	peers := make([]inboundPeer, 0, size-1)
	for len(peers) < size-1 {
		conn, err := ln.Accept()
		if err != nil {
			return peers, fmt.Errorf("comm: accept rank %d: %w", self, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		reader := bufio.NewReader(conn)
		hello, err := session.ReadHello(reader)
		if err == nil && (hello.Size != size || hello.Rank == self || seen[hello.Rank]) {
			err = fmt.Errorf("%w: rank %d size %d", session.ErrInvalidHello, hello.Rank, hello.Size)
		}
		if err != nil {
			logging.Warnf("comm.acceptPeers rank=%d remote=%s err=%v", self, conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}
		_ = conn.SetReadDeadline(time.Time{})
		seen[hello.Rank] = true
		peers = append(peers, inboundPeer{rank: hello.Rank, conn: conn, reader: reader})
		logging.Debugf("comm.acceptPeers rank=%d peer=%d", self, hello.Rank)
	}
	return peers, nil
}

func dialPeer(ctx context.Context, addr string, hello session.Hello, cfg session.Config) (net.Conn, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.HandshakeTimeout))
			if err := session.WriteHello(conn, hello); err != nil {
				_ = conn.Close()
				return nil, err
			}
			_ = conn.SetWriteDeadline(time.Time{})
			return conn, nil
		}
		logging.Debugf("comm.dialPeer attempt=%d addr=%q err=%v", attempt, addr, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("%d attempts: %w", attempt, err)
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, cfg session.BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(session.NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *TCPEndpoint) readLoop(src int, r *bufio.Reader) {
	defer e.wg.Done()
	for {
		f, err := frame.ReadFrame(r, e.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			} else {
				logging.Warnf("comm.readLoop rank=%d peer=%d err=%v", e.rank, src, err)
			}
			e.box.closePeer(src, err)
			return
		}
		e.box.put(envelope{
			src:     src,
			tag:     Tag{Kind: f.Header.Kind, Seq: f.Header.Seq},
			payload: f.Payload,
		})
	}
}

func (e *TCPEndpoint) Rank() int { return e.rank }
func (e *TCPEndpoint) Size() int { return e.size }

func (e *TCPEndpoint) Send(ctx context.Context, dst int, tag Tag, payload []byte) error {
	if err := checkRank(dst, e.size); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if dst == e.rank {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		e.box.put(envelope{src: e.rank, tag: tag, payload: buf})
		observability.RecordTransportMessage(schema.KindName(tag.Kind))
		return nil
	}
	pc := e.out[dst]
	if pc == nil {
		return ErrClosed
	}
	f := frame.Frame{
		Header:  frame.Header{Kind: tag.Kind, Seq: tag.Seq},
		Payload: payload,
	}
	pc.mu.Lock()
	err := frame.WriteFrame(pc.conn, f, e.limits)
	pc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("comm: send %s to rank %d: %w", tag, dst, err)
	}
	observability.RecordTransportMessage(schema.KindName(tag.Kind))
	return nil
}

func (e *TCPEndpoint) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := checkRank(src, e.size); err != nil {
		return nil, err
	}
	env, err := e.box.wait(ctx, src, tag, true)
	if err != nil {
		return nil, err
	}
	return env.payload, nil
}

func (e *TCPEndpoint) Probe(ctx context.Context, src int, tag Tag) (Status, error) {
	if err := checkRank(src, e.size); err != nil {
		return Status{}, err
	}
	env, err := e.box.wait(ctx, src, tag, false)
	if err != nil {
		return Status{}, err
	}
	return Status{Source: env.src, Tag: env.tag, Size: len(env.payload)}, nil
}

// Close ends the write streams first so peers see a clean EOF after the
// last frame, then stops the readers.
func (e *TCPEndpoint) Close() error {
	var first error
	e.once.Do(func() {
		for _, pc := range e.out {
			if pc == nil {
				continue
			}
			pc.mu.Lock()
			if err := pc.conn.Close(); err != nil && first == nil {
				first = err
			}
			pc.mu.Unlock()
		}
		for _, conn := range e.in {
			if conn != nil {
				_ = conn.Close()
			}
		}
		e.wg.Wait()
		e.box.close()
	})
	return first
}
