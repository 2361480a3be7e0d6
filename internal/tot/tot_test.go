package tot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpZeroHasNoPredecessor(t *testing.T) {
	table := NewTOT(4)
	err := table.WaitForPrevious(context.Background(), 0, 0)
	require.NoError(t, err)
}

func TestReleaseThenWaitForPrevious(t *testing.T) {
	table := NewTOT(2)
	require.NoError(t, table.ReleaseNext(0, 0, 4096, 4096))

	err := table.WaitForPrevious(context.Background(), 1, 1)
	require.NoError(t, err)
}

func TestWaitForPreviousBlocksUntilReleased(t *testing.T) {
	table := NewTOT(4)
	done := make(chan error, 1)

	go func() {
		done <- table.WaitForPrevious(context.Background(), 1, 1)
	}()

	select {
	case <-done:
		t.Fatal("WaitForPrevious returned before predecessor released")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, table.ReleaseNext(0, 0, 0, 0))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForPrevious never unblocked")
	}
}

func TestWaitForPreviousRespectsContextCancellation(t *testing.T) {
	table := NewTOT(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := table.WaitForPrevious(ctx, 1, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpdateThenMinOffsetTracksSlowestWorker(t *testing.T) {
	table := NewTOT(3)
	table.Update(0, 100, 10)
	table.Update(1, 50, 10)
	table.Update(2, 200, 10)

	require.Equal(t, int64(50), table.MinOffset())
}

func TestSlotsWrapRoundRobin(t *testing.T) {
	table := NewTOT(2)
	require.NoError(t, table.ReleaseNext(0, 0, 0, 0))
	require.NoError(t, table.ReleaseNext(2, 0, 0, 0)) // op 2 reuses slot 0

	err := table.WaitForPrevious(context.Background(), 3, 1) // slot for op-1=2
	require.NoError(t, err)
}

func TestSequentialPipelineOfOperations(t *testing.T) {
	const ops = 20
	const qd = 4
	table := NewTOT(qd)

	var mu sync.Mutex
	var order []int64

	// At most qd ops are in flight, as under a real supervisor: ops k and
	// k+qd share a slot, so launching all of them at once would let op
	// k+qd take the release meant for op k.
	inFlight := make(chan struct{}, qd)
	var wg sync.WaitGroup
	for op := int64(0); op < ops; op++ {
		wg.Add(1)
		inFlight <- struct{}{}
		go func(op int64) {
			defer wg.Done()
			defer func() { <-inFlight }()
			require.NoError(t, table.WaitForPrevious(context.Background(), op, int(op%qd)))
			mu.Lock()
			order = append(order, op)
			mu.Unlock()
			require.NoError(t, table.ReleaseNext(op, int(op%qd), op*4096, 4096))
		}(op)
	}
	wg.Wait()

	require.Len(t, order, ops)
	for i, op := range order {
		require.Equal(t, int64(i), op)
	}
}
