package xsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistrySnapshotReportsOccupants(t *testing.T) {
	r := NewRegistry()
	b := r.NewBarrier("end-of-pass", 2)

	done := make(chan struct{})
	go func() {
		_ = b.Wait(context.Background(), Occupant{Name: "worker-3", Kind: OccupantWorker}, false)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, snap := range r.Snapshot() {
			if snap.Name == "end-of-pass" && len(snap.Occupants) == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	_ = b.Wait(context.Background(), Occupant{Name: "worker-4", Kind: OccupantWorker}, false)
	<-done
}

func TestRegistryDestroyAllIsIdempotent(t *testing.T) {
	r := NewRegistry()
	b := r.NewBarrier("never-used", 4)
	r.DestroyAll()
	r.DestroyAll()

	err := b.Wait(context.Background(), Occupant{Name: "late"}, false)
	require.NoError(t, err)
}

func TestRegistryDestroyAllReleasesWaiters(t *testing.T) {
	r := NewRegistry()
	b := r.NewBarrier("abort-path", 3)

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Wait(context.Background(), Occupant{Name: "stuck-worker", Kind: OccupantWorker}, false)
	}()

	time.Sleep(10 * time.Millisecond)
	r.DestroyAll()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("DestroyAll did not release waiter")
	}
}
