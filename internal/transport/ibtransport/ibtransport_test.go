//go:build ib

package ibtransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreditTrackerAcquireBlocksUntilReplenished(t *testing.T) {
	c := NewCreditTracker(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Acquire(ctx) }()

	select {
	case <-done:
		t.Fatal("Acquire returned before credits were replenished")
	case <-time.After(20 * time.Millisecond):
	}

	c.Replenish(1)
	require.NoError(t, <-done)
}

func TestEncodeDecodeCredFrame(t *testing.T) {
	frame := EncodeCred(7)
	tag, err := DecodeTag(frame)
	require.NoError(t, err)
	require.Equal(t, tagCred, tag)
}

func TestTransportAcceptUnimplemented(t *testing.T) {
	tr := New()
	_, err := tr.Accept(context.Background(), "127.0.0.1:9000", nil)
	require.Error(t, err)
}
