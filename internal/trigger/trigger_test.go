package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMonitor struct {
	ops, bytes int64
}

func (f *fakeMonitor) Ops() int64   { return f.ops }
func (f *fakeMonitor) Bytes() int64 { return f.bytes }

func TestTimeDelayFires(t *testing.T) {
	tr := Trigger{Kind: TimeDelay, Delay: 5 * time.Millisecond}
	select {
	case <-tr.Arm(context.Background(), &fakeMonitor{}):
	case <-time.After(time.Second):
		t.Fatal("time delay trigger never fired")
	}
}

func TestAbsoluteTimeInPastFiresImmediately(t *testing.T) {
	tr := Trigger{Kind: AbsoluteTime, At: time.Now().Add(-time.Hour)}
	select {
	case <-tr.Arm(context.Background(), &fakeMonitor{}):
	case <-time.After(time.Second):
		t.Fatal("absolute time trigger in the past never fired")
	}
}

func TestOpThresholdWaitsForCount(t *testing.T) {
	m := &fakeMonitor{}
	tr := Trigger{Kind: OpThreshold, OpCount: 10}
	fired := tr.Arm(context.Background(), m)

	select {
	case <-fired:
		t.Fatal("fired before threshold reached")
	case <-time.After(20 * time.Millisecond):
	}

	m.ops = 10
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("op threshold trigger never fired once satisfied")
	}
}

func TestByteThresholdWaitsForCount(t *testing.T) {
	m := &fakeMonitor{}
	tr := Trigger{Kind: ByteThreshold, ByteCount: 4096}
	fired := tr.Arm(context.Background(), m)
	m.bytes = 4096
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("byte threshold trigger never fired once satisfied")
	}
}

func TestTargetSignalFiresOnClose(t *testing.T) {
	sig := make(chan struct{})
	tr := Trigger{Kind: TargetSignal, Signal: sig}
	fired := tr.Arm(context.Background(), &fakeMonitor{})
	close(sig)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("target signal trigger never fired")
	}
}

func TestTriggerRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := Trigger{Kind: OpThreshold, OpCount: 1000000}
	fired := tr.Arm(ctx, &fakeMonitor{})
	cancel()
	select {
	case <-fired:
		t.Fatal("trigger must not fire on cancellation, only stop watching")
	case <-time.After(50 * time.Millisecond):
	}
}
