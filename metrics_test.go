package xdd

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(4096, 5_000, true)
	m.RecordWrite(4096, 15_000, true)
	m.RecordRead(0, 2_000_000, false)
	m.RecordNoop(1_000, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.ReadOps)
	require.Equal(t, uint64(1), snap.WriteOps)
	require.Equal(t, uint64(1), snap.NoopOps)
	require.Equal(t, uint64(1), snap.ReadErrors)
	require.Equal(t, uint64(4096), snap.ReadBytes)
	require.Equal(t, uint64(4), snap.TotalOps)
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()
	m.RecordQueueDepth(2)
	m.RecordQueueDepth(8)
	m.RecordQueueDepth(3)

	require.Equal(t, uint32(8), m.MaxQueueDepth.Load())
	snap := m.Snapshot()
	require.InDelta(t, 4.33, snap.AvgQueueDepth, 0.01)
}

func TestMetricsObserverDelegates(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)
	obs.ObserveWrite(8192, 1_000, true)
	obs.ObserveNoop(500, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.WriteOps)
	require.Equal(t, uint64(8192), snap.WriteBytes)
	require.Equal(t, uint64(1), snap.NoopOps)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(100, 10, true)
	m.Reset()
	snap := m.Snapshot()
	require.Equal(t, uint64(0), snap.TotalOps)
}

func TestPrometheusObserverRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPrometheusObserver(reg, "target-0")

	obs.ObserveRead(4096, 10_000, true)
	obs.ObserveWrite(0, 10_000, false)
	obs.ObserveQueueDepth(4)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
