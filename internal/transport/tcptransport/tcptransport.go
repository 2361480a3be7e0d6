// Package tcptransport implements the TCP fan-out E2E transport: a
// connection is N parallel stream sockets, each framed by a fixed
// 20-byte header, with a shared receive channel standing in for the
// legacy implementation's multi-fd select loop.
package tcptransport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/xdd-project/xdd/internal/logging"
	"github.com/xdd-project/xdd/internal/queue"
	"github.com/xdd-project/xdd/internal/transport"
)

const headerSize = 20 // sequence(8) + targetOffset(8) + dataLength(4)

// Transport is a TCP fan-out implementation of transport.Transport.
type Transport struct {
	numSockets int
	log        *logging.Logger

	mu        sync.Mutex
	listeners []net.Listener
}

// New creates a TCP transport that fans each connection out across
// numSockets parallel stream sockets.
func New(numSockets int, log *logging.Logger) *Transport {
	if numSockets < 1 {
		numSockets = 1
	}
	if log == nil {
		log = logging.Default()
	}
	return &Transport{numSockets: numSockets, log: log}
}

// Accept listens on [basePort, basePort+numSockets) at endpoint's host
// and blocks until all numSockets peers have connected.
func (t *Transport) Accept(ctx context.Context, endpoint string, bufs *transport.BufferSet) (transport.Connection, error) {
	host, basePort, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	conns := make([]net.Conn, t.numSockets)
	listeners := make([]net.Listener, t.numSockets)
	var lc net.ListenConfig
	for i := 0; i < t.numSockets; i++ {
		addr := fmt.Sprintf("%s:%d", host, basePort+i)
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			for _, l := range listeners[:i] {
				l.Close()
			}
			return nil, fmt.Errorf("tcptransport: listen %s: %w", addr, err)
		}
		listeners[i] = ln
		t.mu.Lock()
		t.listeners = append(t.listeners, ln)
		t.mu.Unlock()
	}

	for i, ln := range listeners {
		conn, err := acceptOne(ctx, ln)
		ln.Close()
		if err != nil {
			for _, l := range listeners[i+1:] {
				l.Close()
			}
			closeAll(conns[:i])
			return nil, fmt.Errorf("tcptransport: accept %s: %w", ln.Addr(), err)
		}
		conns[i] = conn
	}

	return newConnection(conns, t.log), nil
}

// Connect dials [basePort, basePort+numSockets) at endpoint's host.
func (t *Transport) Connect(ctx context.Context, endpoint string, bufs *transport.BufferSet) (transport.Connection, error) {
	host, basePort, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	conns := make([]net.Conn, t.numSockets)
	var d net.Dialer
	for i := 0; i < t.numSockets; i++ {
		addr := fmt.Sprintf("%s:%d", host, basePort+i)
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			closeAll(conns[:i])
			return nil, fmt.Errorf("tcptransport: dial %s: %w", addr, err)
		}
		conns[i] = conn
	}

	return newConnection(conns, t.log), nil
}

// Close shuts down every listener this transport opened via Accept.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, ln := range t.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.listeners = nil
	return firstErr
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		ln.Close()
		return nil, ctx.Err()
	}
}

func closeAll(conns []net.Conn) {
	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("tcptransport: invalid endpoint %q: %w", endpoint, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("tcptransport: invalid port in endpoint %q: %w", endpoint, err)
	}
	return host, port, nil
}

type recvResult struct {
	tb  *transport.TargetBuffer
	err error
}

// connection fans one logical E2E link across N TCP sockets. Per-socket
// reader goroutines push decoded TargetBuffers onto a shared channel,
// replacing the legacy select-on-readset loop: each receive is a fresh
// channel read rather than a re-scanned fd set, which sidesteps the
// stale-readset class of bug the original select loop was prone to.
type connection struct {
	conns []net.Conn
	log   *logging.Logger

	recvCh chan recvResult
	eofWg  sync.WaitGroup
	// eofCh is closed once every socket's readLoop has returned. Unlike a
	// single value posted on recvCh, a closed channel wakes every past,
	// present, and future ReceiveTargetBuffer caller, which is required
	// so that all of a destination target's queue-depth workers observe
	// Eof rather than just whichever one happened to drain the one-shot
	// message.
	eofCh chan struct{}

	mu        sync.Mutex
	freeCond  *sync.Cond
	freeSlots []int // indices into conns currently idle
	next      int

	seq transport.SequenceCounter

	closeOnce sync.Once
}

func newConnection(conns []net.Conn, log *logging.Logger) *connection {
	c := &connection{
		conns:  conns,
		log:    log,
		recvCh: make(chan recvResult, len(conns)),
		eofCh:  make(chan struct{}),
	}
	c.freeCond = sync.NewCond(&c.mu)
	for i := range conns {
		c.freeSlots = append(c.freeSlots, i)
	}
	c.eofWg.Add(len(conns))
	for i, conn := range conns {
		go c.readLoop(i, conn)
	}
	go func() {
		c.eofWg.Wait()
		close(c.eofCh)
	}()
	return c
}

func (c *connection) readLoop(idx int, conn net.Conn) {
	defer c.eofWg.Done()
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				c.recvCh <- recvResult{nil, fmt.Errorf("tcptransport: socket %d header read: %w", idx, err)}
			}
			return
		}
		seq := int64(binary.BigEndian.Uint64(header[0:8]))
		offset := int64(binary.BigEndian.Uint64(header[8:16]))
		length := binary.BigEndian.Uint32(header[16:20])

		data := queue.GetBuffer(length)
		if _, err := io.ReadFull(conn, data); err != nil {
			c.recvCh <- recvResult{nil, fmt.Errorf("tcptransport: socket %d payload read: %w", idx, err)}
			return
		}

		c.recvCh <- recvResult{&transport.TargetBuffer{
			Data: data, TargetOffset: offset, DataLength: int64(length), Sequence: seq,
		}, nil}
	}
}

// RegisterBuffer is a no-op for the TCP transport: it never references
// buffers by index, only by copying full payloads on the wire.
func (c *connection) RegisterBuffer(buf []byte, reserved int) error {
	return nil
}

// RequestTargetBuffer returns a fresh TargetBuffer stamped with the next
// sequence number and does not block; waiting for an idle socket happens
// in SendTargetBuffer.
func (c *connection) RequestTargetBuffer(ctx context.Context) (*transport.TargetBuffer, error) {
	return &transport.TargetBuffer{Sequence: c.seq.Next()}, nil
}

// SendTargetBuffer picks a free socket round-robin and writes the
// 20-byte header followed by the payload.
func (c *connection) SendTargetBuffer(ctx context.Context, tb *transport.TargetBuffer) error {
	c.mu.Lock()
	for len(c.freeSlots) == 0 {
		c.freeCond.Wait()
	}
	idx := c.freeSlots[0]
	c.freeSlots = c.freeSlots[1:]
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.freeSlots = append(c.freeSlots, idx)
		c.freeCond.Signal()
		c.mu.Unlock()
	}()

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[0:8], uint64(tb.Sequence))
	binary.BigEndian.PutUint64(header[8:16], uint64(tb.TargetOffset))
	binary.BigEndian.PutUint32(header[16:20], uint32(len(tb.Data)))

	if _, err := c.conns[idx].Write(header); err != nil {
		return fmt.Errorf("tcptransport: write header: %w", err)
	}
	if _, err := c.conns[idx].Write(tb.Data); err != nil {
		return fmt.Errorf("tcptransport: write payload: %w", err)
	}
	return nil
}

// ReceiveTargetBuffer reads the next buffer decoded by any socket's
// readLoop, returning io.EOF once every socket has reached end of
// stream. eofCh is closed rather than signaled once, so every worker
// that calls ReceiveTargetBuffer after (or during) EOF observes it, not
// just whichever one happens to win the race to drain a single message.
// Every readLoop's send to recvCh happens before that readLoop's own
// eofWg.Done, so eofCh can only close once recvCh will never receive
// another value; a non-blocking drain of recvCh is tried first so a
// buffered value still waiting to be picked up is never lost to a
// concurrent, randomly-scheduled select on eofCh.
func (c *connection) ReceiveTargetBuffer(ctx context.Context) (*transport.TargetBuffer, error) {
	select {
	case r := <-c.recvCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.tb, nil
	default:
	}

	select {
	case r := <-c.recvCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.tb, nil
	case <-c.eofCh:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReleaseTargetBuffer returns a received payload slice to the shared
// buffer pool once the caller (the worker, after copying it into its
// own owned buffer) is done with it.
func (c *connection) ReleaseTargetBuffer(tb *transport.TargetBuffer) {
	if tb == nil || tb.Data == nil {
		return
	}
	queue.PutBuffer(tb.Data)
}

func (c *connection) Close() error {
	var firstErr error
	c.closeOnce.Do(func() {
		for _, conn := range c.conns {
			if err := conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Connection = (*connection)(nil)
