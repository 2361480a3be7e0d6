package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdd-project/xdd/internal/backend"
	"github.com/xdd-project/xdd/internal/seeklist"
	"github.com/xdd-project/xdd/internal/target"
	"github.com/xdd-project/xdd/internal/worker"
)

func TestRunRejectsEmptyPlan(t *testing.T) {
	_, err := Run(context.Background(), Plan{}, RunOptions{})
	require.Error(t, err)
}

func TestRunCompletesAllTargetsAcrossPasses(t *testing.T) {
	p := Plan{
		ProgName: "xdd-test",
		Passes:   2,
		Targets: []target.Config{
			{
				Index:        0,
				Kind:         backend.KindMemory,
				BlockSize:    512,
				TransferSize: 4096,
				Operations:   4,
				RWRatio:      0.5,
				QueueDepth:   2,
				SeekPattern:  seeklist.PatternSequential,
				Ordering:     worker.OrderingNone,
			},
			{
				Index:        1,
				Kind:         backend.KindMemory,
				BlockSize:    512,
				TransferSize: 4096,
				Operations:   4,
				RWRatio:      0.5,
				QueueDepth:   2,
				SeekPattern:  seeklist.PatternSequential,
				Ordering:     worker.OrderingNone,
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Run(ctx, p, RunOptions{})
	require.NoError(t, err)
	require.False(t, result.RunStartTime.IsZero())
	require.False(t, result.RunEndTime.IsZero())
}
