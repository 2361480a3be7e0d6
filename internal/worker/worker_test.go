package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdd-project/xdd/internal/backend"
	"github.com/xdd-project/xdd/internal/seeklist"
	"github.com/xdd-project/xdd/internal/transport"
)

func TestExecuteTaskWriteThenRead(t *testing.T) {
	be := backend.NewMemory(1 << 20)
	w := New(Config{Backend: be, Ordering: OrderingNone, Buffer: make([]byte, 4096)}, nil, nil)

	copy(w.buffer, []byte("xdd payload"))
	require.NoError(t, w.ExecuteTask(context.Background(), Task{Op: seeklist.OpWrite, ByteOffset: 0, Length: 4096}))

	w2 := New(Config{Backend: be, Ordering: OrderingNone, Buffer: make([]byte, 4096)}, nil, nil)
	require.NoError(t, w2.ExecuteTask(context.Background(), Task{Op: seeklist.OpRead, ByteOffset: 0, Length: 4096}))
	require.Contains(t, string(w2.buffer), "xdd payload")
}

func TestRunDispatchesFromTaskChannelAndReportsAvailable(t *testing.T) {
	be := backend.NewMemory(1 << 20)
	tasks := make(chan Task, 1)
	avail := make(chan int, 2)
	w := New(Config{Backend: be, Ordering: OrderingNone, Buffer: make([]byte, 4096)}, tasks, avail)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(avail) > 0 }, time.Second, time.Millisecond)
	<-avail // startup availability signal

	tasks <- Task{Op: seeklist.OpWrite, ByteOffset: 0, Length: 4096}
	require.Eventually(t, func() bool { return len(avail) > 0 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

type fakeConnection struct {
	toReceive []*transport.TargetBuffer
	sent      []*transport.TargetBuffer
}

func (f *fakeConnection) RegisterBuffer(buf []byte, reserved int) error { return nil }
func (f *fakeConnection) RequestTargetBuffer(ctx context.Context) (*transport.TargetBuffer, error) {
	return &transport.TargetBuffer{}, nil
}
func (f *fakeConnection) SendTargetBuffer(ctx context.Context, tb *transport.TargetBuffer) error {
	f.sent = append(f.sent, tb)
	return nil
}
func (f *fakeConnection) ReceiveTargetBuffer(ctx context.Context) (*transport.TargetBuffer, error) {
	if len(f.toReceive) == 0 {
		return nil, io.EOF
	}
	tb := f.toReceive[0]
	f.toReceive = f.toReceive[1:]
	return tb, nil
}
func (f *fakeConnection) ReleaseTargetBuffer(tb *transport.TargetBuffer) {}
func (f *fakeConnection) Close() error                                  { return nil }

func TestE2ESourceSendsAfterRead(t *testing.T) {
	be := backend.NewMemory(4096)
	copy(make([]byte, 4096), []byte("payload"))
	_, err := be.WriteAt([]byte("payload-data"), 0)
	require.NoError(t, err)

	conn := &fakeConnection{}
	w := New(Config{Backend: be, Ordering: OrderingNone, Buffer: make([]byte, 4096), Conn: conn, E2ERole: E2ESource}, nil, nil)

	require.NoError(t, w.ExecuteTask(context.Background(), Task{Op: seeklist.OpRead, ByteOffset: 0, Length: 4096}))
	require.Len(t, conn.sent, 1)
	require.Contains(t, string(conn.sent[0].Data), "payload-data")
}

func TestE2EDestinationSetsEOFFlag(t *testing.T) {
	be := backend.NewMemory(4096)
	conn := &fakeConnection{} // empty: immediately returns io.EOF
	w := New(Config{Backend: be, Ordering: OrderingNone, Buffer: make([]byte, 4096), Conn: conn, E2ERole: E2EDestination}, nil, nil)

	require.NoError(t, w.ExecuteTask(context.Background(), Task{Op: seeklist.OpWrite, ByteOffset: 0, Length: 4096}))
	require.True(t, w.EOFReceived())
}

func TestE2EDestinationWritesReceivedOffset(t *testing.T) {
	be := backend.NewMemory(1 << 20)
	conn := &fakeConnection{toReceive: []*transport.TargetBuffer{
		{Data: []byte("from-wire"), TargetOffset: 8192, DataLength: 9},
	}}
	w := New(Config{Backend: be, Ordering: OrderingNone, Buffer: make([]byte, 4096), Conn: conn, E2ERole: E2EDestination}, nil, nil)

	require.NoError(t, w.ExecuteTask(context.Background(), Task{Op: seeklist.OpWrite, ByteOffset: 0, Length: 4096}))

	readBuf := make([]byte, 9)
	_, err := be.ReadAt(readBuf, 8192)
	require.NoError(t, err)
	require.Equal(t, "from-wire", string(readBuf))
}
