// Package ibtransport implements the credit-based flow control bookkeeping
// of the InfiniBand verbs E2E transport. It is gated behind the "ib"
// build tag the same way the teacher gates its io_uring cgo bindings
// behind build tags: the actual verbs syscalls require linking against
// libibverbs, which appears nowhere in the retrieval pack, so only the
// protocol-level credit accounting is implemented here (see DESIGN.md).
//
//go:build ib

package ibtransport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/xdd-project/xdd/internal/transport"
)

// Message tags on the wire: the four ASCII bytes "DATA", "EOF " and
// "CRED", read big-endian.
const (
	tagData uint32 = 0x44415441 // "DATA"
	tagEOF  uint32 = 0x454f4620 // "EOF "
	tagCred uint32 = 0x43524544 // "CRED"
)

const credFrameSize = 8 // tag(4) + count(4)

// CreditTracker implements the verbs transport's credit-based flow
// control: a sender may not transmit more in-flight DATA messages than
// the receiver has most recently advertised via a CRED frame.
type CreditTracker struct {
	mu          sync.Mutex
	cond        *sync.Cond
	creditCount int32
}

// NewCreditTracker creates a tracker starting with initialCredits
// available to spend.
func NewCreditTracker(initialCredits int32) *CreditTracker {
	c := &CreditTracker{creditCount: initialCredits}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Acquire blocks until at least one credit is available, then spends it.
func (c *CreditTracker) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.creditCount <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	c.creditCount--
	return nil
}

// Replenish adds n credits, as observed from an incoming CRED frame.
func (c *CreditTracker) Replenish(n int32) {
	c.mu.Lock()
	c.creditCount += n
	c.mu.Unlock()
	c.cond.Broadcast()
}

// EncodeCred serializes a CRED control frame advertising count credits.
func EncodeCred(count int32) []byte {
	buf := make([]byte, credFrameSize)
	binary.BigEndian.PutUint32(buf[0:4], tagCred)
	binary.BigEndian.PutUint32(buf[4:8], uint32(count))
	return buf
}

// DecodeTag reads the leading 4-byte tag off a frame.
func DecodeTag(frame []byte) (uint32, error) {
	if len(frame) < 4 {
		return 0, fmt.Errorf("ibtransport: frame too short for tag: %d bytes", len(frame))
	}
	return binary.BigEndian.Uint32(frame[0:4]), nil
}

// Transport is the verbs-backed implementation. Accept/Connect/Close are
// not implemented: no ibverbs binding is available anywhere in the
// retrieval pack to ground the cgo call on (see DESIGN.md "dropped
// dependencies").
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Accept(ctx context.Context, endpoint string, bufs *transport.BufferSet) (transport.Connection, error) {
	return nil, fmt.Errorf("ibtransport: verbs queue-pair setup not implemented in this build")
}

func (t *Transport) Connect(ctx context.Context, endpoint string, bufs *transport.BufferSet) (transport.Connection, error) {
	return nil, fmt.Errorf("ibtransport: verbs queue-pair setup not implemented in this build")
}

func (t *Transport) Close() error { return nil }

var _ transport.Transport = (*Transport)(nil)
var _ io.Closer = (*Transport)(nil)
