// Package restart implements the restart checkpoint monitor: a
// singleton that periodically records the lowest durable byte offset of
// every destination-side E2E target to a restart file, and parses that
// file back for a resumed run.
package restart

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xdd-project/xdd/internal/logging"
	"github.com/xdd-project/xdd/internal/worker"
)

// Target is the subset of a target supervisor the monitor needs:
// its workers' current offsets and its restart file path.
type Target interface {
	Workers() []*worker.Worker
	RestartPath() string
}

// Monitor periodically checkpoints every destination-side E2E target's
// lowest outstanding byte offset to its restart file.
type Monitor struct {
	log *logging.Logger
}

// NewMonitor constructs a restart monitor.
func NewMonitor(log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.Default()
	}
	return &Monitor{log: log}
}

// Run ticks every period, writing a checkpoint for each target, until
// ctx is cancelled — grounded on the teacher's ioLoop select-on-
// ctx.Done()-or-work pattern, generalized from one-shot work to a
// periodic tick.
func (m *Monitor) Run(ctx context.Context, targets []Target, period time.Duration) {
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tg := range targets {
				if err := m.checkpoint(tg); err != nil {
					m.log.Warn("restart checkpoint failed", "error", err)
				}
			}
		}
	}
}

func (m *Monitor) checkpoint(tg Target) error {
	path := tg.RestartPath()
	if path == "" {
		return nil
	}
	offset := minOffset(tg.Workers())
	return WriteOffset(path, offset)
}

func minOffset(workers []*worker.Worker) int64 {
	min := int64(-1)
	for _, w := range workers {
		off := w.CurrentOffset()
		if min == -1 || off < min {
			min = off
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// WriteOffset writes "-restart offset <n>\n" to path, truncating by
// seeking to zero and overwriting (grounded on restart.c's
// xdd_restart_write_restart_file), and flushes before returning.
func WriteOffset(path string, offset int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("restart: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("restart: seek %s: %w", path, err)
	}
	line := fmt.Sprintf("-restart offset %d\n", offset)
	if err := f.Truncate(int64(len(line))); err != nil {
		return fmt.Errorf("restart: truncate %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("restart: write %s: %w", path, err)
	}
	return f.Sync()
}

// Load parses a restart file's "-restart offset N" line.
func Load(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("restart: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "-restart" && fields[1] == "offset" {
			offset, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("restart: %s: invalid offset %q: %w", path, fields[2], err)
			}
			return offset, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("restart: read %s: %w", path, err)
	}
	return 0, fmt.Errorf("restart: %s: no restart offset line found", path)
}

// GenerateFilename builds the default restart filename from source and
// destination host/path pairs, grounded on restart.c's sprintf format
// string translated to Go's reference-time layout.
func GenerateFilename(srcHost, srcPath, dstHost, dstPath string, at time.Time) string {
	return fmt.Sprintf("xdd.%s.%s.%s.%s.%s-GMT.rst",
		srcHost, baseName(srcPath), dstHost, baseName(dstPath), at.UTC().Format("2006-01-02-1504"))
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
