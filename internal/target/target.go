// Package target implements the per-target supervisor: the component
// that owns one target's backend, worker pool, seek list, and TOT, and
// drives it through the pass loop described by the plan coordinator.
package target

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xdd-project/xdd/internal/backend"
	"github.com/xdd-project/xdd/internal/interfaces"
	"github.com/xdd-project/xdd/internal/lockstep"
	"github.com/xdd-project/xdd/internal/logging"
	"github.com/xdd-project/xdd/internal/seeklist"
	"github.com/xdd-project/xdd/internal/tot"
	"github.com/xdd-project/xdd/internal/transport"
	"github.com/xdd-project/xdd/internal/trigger"
	"github.com/xdd-project/xdd/internal/worker"
)

// Config parameterizes one target's supervisor. It mirrors the data
// model's Target: identity, access plan, and options.
type Config struct {
	Index int
	Path  string
	Kind  backend.Kind

	BlockSize    int64
	TransferSize int64
	StartOffset  int64
	PassOffset   int64
	Operations   int
	RWRatio      float64
	QueueDepth   int
	Passes       int
	PassDelay    time.Duration
	TimeLimit    time.Duration

	DirectIO     bool
	Preallocate  bool
	SyncWrite    bool
	SharedMemory bool

	SeekPattern  seeklist.Pattern
	RandomSeed   int64
	StagedFile   string

	Ordering worker.Ordering
	E2ERole  worker.E2ERole

	// Transport/E2E wiring; nil for non-E2E targets.
	Transport transport.Transport
	Endpoint  string
	BufferSet *transport.BufferSet

	ThrottleBytesPerSec int64 // 0 disables throttling
	Lockstep            *lockstep.Coupling
	StartTrigger        *trigger.Trigger
	StopTrigger         *trigger.Trigger

	// RestartPath is where the restart monitor checkpoints this
	// target's lowest outstanding offset; empty disables checkpointing.
	RestartPath string

	Observer interfaces.Observer
	Logger   *logging.Logger
}

// Supervisor owns one target's full runtime: its backend, seek list,
// TOT, and worker pool, and drives them through the pass loop.
type Supervisor struct {
	cfg Config
	log *logging.Logger

	be interfaces.Backend

	seek []seeklist.Entry
	t    *tot.TOT

	workers []*worker.Worker
	tasks   chan worker.Task
	avail   chan int

	conn transport.Connection

	opsDone   atomic.Int64
	bytesDone atomic.Int64
	aborted   atomic.Bool

	countersMu sync.Mutex
	passStart  time.Time
	passEnd    time.Time
}

// NewSupervisor opens the target's backend, builds its seek list and
// TOT, and constructs one worker per queue-depth slot. E2E targets also
// establish their transport connection.
func NewSupervisor(ctx context.Context, cfg Config) (*Supervisor, error) {
	if cfg.QueueDepth < 1 {
		return nil, fmt.Errorf("target %d: queue depth must be >= 1", cfg.Index)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.WithTarget(cfg.Index)

	be, err := backend.Open(cfg.Kind, cfg.Path, backend.Options{
		DirectIO: cfg.DirectIO,
		Create:   true,
		Size:     cfg.StartOffset + int64(cfg.Operations)*cfg.TransferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("target %d: open backend: %w", cfg.Index, err)
	}

	seek, err := seeklist.Generate(seeklist.Config{
		Pattern:      cfg.SeekPattern,
		Entries:      cfg.Operations,
		StartOffset:  cfg.StartOffset,
		TransferSize: cfg.TransferSize,
		RWRatio:      cfg.RWRatio,
		Seed:         cfg.RandomSeed,
		StagedFile:   cfg.StagedFile,
	})
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("target %d: generate seek list: %w", cfg.Index, err)
	}
	if cfg.PassOffset != 0 {
		seek = seeklist.Shift(seek, cfg.PassOffset)
	}

	table := tot.NewTOT(cfg.QueueDepth)

	s := &Supervisor{
		cfg:   cfg,
		log:   log,
		be:    be,
		seek:  seek,
		t:     table,
		tasks: make(chan worker.Task, cfg.QueueDepth),
		avail: make(chan int, cfg.QueueDepth),
	}

	var conn transport.Connection
	if cfg.E2ERole != worker.E2ENone && cfg.Transport != nil {
		bufs := cfg.BufferSet
		if bufs == nil {
			bufs = &transport.BufferSet{}
		}
		switch cfg.E2ERole {
		case worker.E2EDestination:
			conn, err = cfg.Transport.Accept(ctx, cfg.Endpoint, bufs)
		case worker.E2ESource:
			conn, err = cfg.Transport.Connect(ctx, cfg.Endpoint, bufs)
		}
		if err != nil {
			be.Close()
			return nil, fmt.Errorf("target %d: establish E2E connection: %w", cfg.Index, err)
		}
		s.conn = conn
	}

	var limiter *rate.Limiter
	if cfg.ThrottleBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ThrottleBytesPerSec), int(cfg.TransferSize))
	}

	s.workers = make([]*worker.Worker, cfg.QueueDepth)
	for i := 0; i < cfg.QueueDepth; i++ {
		w := worker.New(worker.Config{
			TargetIndex: cfg.Index,
			Index:       i,
			Backend:     be,
			TOT:         table,
			Ordering:    cfg.Ordering,
			Buffer:      make([]byte, pageRoundedSize(cfg.TransferSize)),
			Conn:        conn,
			E2ERole:     cfg.E2ERole,
			Observer:    cfg.Observer,
			Logger:      log,
			Throttle:    limiter,
			BlockSize:   cfg.BlockSize,
		}, s.tasks, s.avail)
		s.workers[i] = w
	}

	return s, nil
}

func pageRoundedSize(n int64) int64 {
	const page = 4096
	if n <= 0 {
		return page
	}
	return (n + page - 1) / page * page
}

// Ops returns the number of operations dispatched to workers so far in
// the current pass, satisfying trigger.Monitor.
func (s *Supervisor) Ops() int64 { return s.opsDone.Load() }

// Bytes returns the number of bytes dispatched to workers so far in the
// current pass, satisfying trigger.Monitor.
func (s *Supervisor) Bytes() int64 { return s.bytesDone.Load() }

// Abort requests early termination; in-flight tasks still run to
// completion but no further tasks are dispatched.
func (s *Supervisor) Abort() { s.aborted.Store(true) }

// Aborted reports whether Abort has been called.
func (s *Supervisor) Aborted() bool { return s.aborted.Load() }

// Workers exposes the worker pool for the restart monitor's lowest-
// offset computation.
func (s *Supervisor) Workers() []*worker.Worker { return s.workers }

// Backend exposes the target's backend, used by the restart monitor and
// plan coordinator teardown.
func (s *Supervisor) Backend() interfaces.Backend { return s.be }

// RestartPath returns the path the restart monitor should checkpoint
// this target's lowest outstanding offset to, satisfying restart.Target.
func (s *Supervisor) RestartPath() string { return s.cfg.RestartPath }

// RunPasses drives the target through cfg.Passes passes, implementing
// the pass loop: start barrier is the caller's responsibility (the plan
// coordinator releases it plan-wide), but everything from the start
// trigger through the pass-delay sleep happens here.
func (s *Supervisor) RunPasses(ctx context.Context, startBarrier, endBarrier func(context.Context) error) error {
	for pass := 0; pass < s.cfg.Passes; pass++ {
		if startBarrier != nil {
			if err := startBarrier(ctx); err != nil {
				return err
			}
		}

		if s.cfg.StartTrigger != nil {
			select {
			case <-s.cfg.StartTrigger.Arm(ctx, s):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.countersMu.Lock()
		s.passStart = time.Now()
		s.opsDone.Store(0)
		s.bytesDone.Store(0)
		s.countersMu.Unlock()

		deadline := time.Time{}
		if s.cfg.TimeLimit > 0 {
			deadline = time.Now().Add(s.cfg.TimeLimit)
		}

		var err error
		switch s.cfg.E2ERole {
		case worker.E2EDestination:
			err = s.runDestinationPass(ctx, deadline)
		default:
			err = s.runDispatchPass(ctx, deadline)
		}
		if err != nil {
			return err
		}

		if s.cfg.SyncWrite {
			if f, ok := s.be.(interface{ Flush() error }); ok {
				if ferr := f.Flush(); ferr != nil {
					s.log.Warn("sync-after-pass failed", "error", ferr)
				}
			}
		}

		s.countersMu.Lock()
		s.passEnd = time.Now()
		s.countersMu.Unlock()

		if endBarrier != nil {
			if err := endBarrier(ctx); err != nil {
				return err
			}
		}

		if pass < s.cfg.Passes-1 && s.cfg.PassDelay > 0 {
			select {
			case <-time.After(s.cfg.PassDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// runDispatchPass drives the local seek-list-driven dispatch loop used
// by non-E2E and E2E-source targets.
func (s *Supervisor) runDispatchPass(ctx context.Context, deadline time.Time) error {
	opNumber := int64(0)
	for i := 0; i < len(s.seek) && !s.aborted.Load(); i++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		if s.cfg.Lockstep != nil {
			slaveCount := opNumber
			if s.cfg.Lockstep.Unit == lockstep.UnitBytes {
				slaveCount = s.bytesDone.Load()
			}
			if err := s.cfg.Lockstep.WaitForHeadroom(ctx, slaveCount); err != nil {
				return err
			}
		}

		var idle int
		select {
		case idle = <-s.avail:
		case <-ctx.Done():
			return ctx.Err()
		}

		entry := s.seek[i]
		task := worker.Task{Op: entry.Op, OpNumber: opNumber, ByteOffset: entry.Offset, Length: entry.Length}
		s.tasks <- task
		_ = idle

		s.opsDone.Add(1)
		s.bytesDone.Add(entry.Length)
		opNumber++
	}

	// Drain: force every worker through its availability gate so none
	// is left parked expecting a task that will never come, then hand the
	// drained indices back so the next pass can dispatch to them.
	drained := make([]int, 0, len(s.workers))
	for range s.workers {
		select {
		case idx := <-s.avail:
			drained = append(drained, idx)
		case <-time.After(time.Second):
		}
	}
	for _, idx := range drained {
		s.avail <- idx
	}

	if s.cfg.E2ERole == worker.E2ESource && s.conn != nil {
		// Dispatch an EOF-signalling close; the connection's own Close
		// is what causes the destination's next receive to observe EOF
		// (see internal/transport's Common invariants).
		if err := s.conn.Close(); err != nil {
			s.log.Warn("E2E source connection close failed", "error", err)
		}
	}
	return nil
}

// runDestinationPass is driven by received packets rather than the
// local seek list: each iteration waits for a worker to report idle,
// hands it a placeholder task (the worker overwrites offset/length from
// the wire header in ExecuteTask's receive step), and terminates once
// every worker has observed EOF.
func (s *Supervisor) runDestinationPass(ctx context.Context, deadline time.Time) error {
	opNumber := int64(0)
	for !s.aborted.Load() {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		if s.allWorkersEOF() {
			break
		}

		select {
		case idle := <-s.avail:
			s.tasks <- worker.Task{Op: seeklist.OpWrite, OpNumber: opNumber}
			_ = idle
			opNumber++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for range s.workers {
		select {
		case <-s.avail:
		case <-time.After(time.Second):
		}
	}
	return nil
}

func (s *Supervisor) allWorkersEOF() bool {
	for _, w := range s.workers {
		if !w.EOFReceived() {
			return false
		}
	}
	return true
}

// Close releases the target's workers' task channel and backend.
func (s *Supervisor) Close() error {
	close(s.tasks)
	return s.be.Close()
}

// PassTimestamps returns the most recent pass's start/end times, for
// the reporter.
func (s *Supervisor) PassTimestamps() (start, end time.Time) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.passStart, s.passEnd
}
