package target

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdd-project/xdd/internal/backend"
	"github.com/xdd-project/xdd/internal/seeklist"
	"github.com/xdd-project/xdd/internal/transport"
	"github.com/xdd-project/xdd/internal/transport/tcptransport"
	"github.com/xdd-project/xdd/internal/worker"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Index:        0,
		Path:         "", // unused for KindMemory
		Kind:         backend.KindMemory,
		BlockSize:    512,
		TransferSize: 4096,
		Operations:   16,
		RWRatio:      0.5,
		QueueDepth:   4,
		Passes:       1,
		SeekPattern:  seeklist.PatternSequential,
		Ordering:     worker.OrderingNone,
	}
}

func TestNewSupervisorOpensBackendAndBuildsSeekList(t *testing.T) {
	s, err := NewSupervisor(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.seek, 16)
	require.Len(t, s.workers, 4)
}

func TestRunPassesCompletesAllOperations(t *testing.T) {
	cfg := testConfig(t)
	s, err := NewSupervisor(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, w := range s.workers {
		go w.Run(ctx)
	}

	err = s.RunPasses(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(16), s.Ops())
	require.Equal(t, int64(16*4096), s.Bytes())
}

func TestRunPassesHonorsTimeLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Operations = 10000
	cfg.TimeLimit = 5 * time.Millisecond
	s, err := NewSupervisor(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, w := range s.workers {
		go w.Run(ctx)
	}

	err = s.RunPasses(ctx, nil, nil)
	require.NoError(t, err)
	require.Less(t, s.Ops(), int64(10000))
}

func TestAbortStopsDispatchLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Operations = 10000
	s, err := NewSupervisor(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, w := range s.workers {
		go w.Run(ctx)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Abort()
	}()

	err = s.RunPasses(ctx, nil, nil)
	require.NoError(t, err)
	require.True(t, s.Aborted())
	require.Less(t, s.Ops(), int64(10000))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRunDestinationPassTerminatesWithQueueDepthGreaterThanOne exercises
// an E2E destination target with queue_depth > 1 against a real TCP
// transport: every one of its workers independently calls
// ReceiveTargetBuffer, and the pass must still terminate once the
// source closes its connection, rather than deadlocking on every
// worker but the one that first observed Eof.
func TestRunDestinationPassTerminatesWithQueueDepthGreaterThanOne(t *testing.T) {
	const queueDepth = 4
	basePort := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", basePort)

	serverTransport := tcptransport.New(queueDepth, nil)
	clientTransport := tcptransport.New(queueDepth, nil)
	defer serverTransport.Close()

	cfg := testConfig(t)
	cfg.Kind = backend.KindMemory
	cfg.QueueDepth = queueDepth
	cfg.Operations = queueDepth
	cfg.E2ERole = worker.E2EDestination
	cfg.Transport = serverTransport
	cfg.Endpoint = endpoint

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type newResult struct {
		s   *Supervisor
		err error
	}
	newCh := make(chan newResult, 1)
	go func() {
		s, err := NewSupervisor(ctx, cfg)
		newCh <- newResult{s, err}
	}()

	time.Sleep(20 * time.Millisecond)
	clientConn, err := clientTransport.Connect(ctx, endpoint, nil)
	require.NoError(t, err)

	res := <-newCh
	require.NoError(t, res.err)
	s := res.s
	defer s.Close()

	// Send fewer buffers than queue_depth workers, then close: every
	// worker must still observe Eof rather than only the first one.
	tb := &transport.TargetBuffer{Data: make([]byte, 4096), TargetOffset: 0, DataLength: 4096}
	require.NoError(t, clientConn.SendTargetBuffer(ctx, tb))
	require.NoError(t, clientConn.Close())

	var wg sync.WaitGroup
	for _, w := range s.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	done := make(chan error, 1)
	go func() {
		done <- s.RunPasses(ctx, nil, nil)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("RunPasses deadlocked waiting for every worker to observe Eof")
	}
}
