// Package worker implements the per-task state machine a target
// supervisor dispatches work to: one goroutine per queue-depth slot,
// executing reads, writes, and noops against a Backend under optional
// TOT ordering, direct-I/O alignment checks, throttling, and E2E
// transport framing.
package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xdd-project/xdd/internal/interfaces"
	"github.com/xdd-project/xdd/internal/logging"
	"github.com/xdd-project/xdd/internal/seeklist"
	"github.com/xdd-project/xdd/internal/tot"
	"github.com/xdd-project/xdd/internal/transport"
)

// State is a bitmask sum-type describing what a worker is currently
// doing, held in an atomic field so the restart monitor and an
// interactive consumer can read it lock-free — the same
// one-bitmask-in-struct idea as the teacher's TagState, generalized to
// an atomic per the spec's explicit redesign note.
type State uint32

const (
	Init State = 1 << iota
	Idle
	TaskWait
	IO
	DestRecv
	SrcSend
	Barrier
	WaitTOTWait
	WaitTOTRelease
	WaitTOTUpdate
	WaitPreviousIO
	PassComplete
)

// Ordering selects how a target's workers serialize access to the TOT.
type Ordering int

const (
	OrderingNone Ordering = iota
	OrderingLoose
	OrderingSerial
)

// E2ERole selects whether a worker reads from storage and sends, writes
// to storage after receiving, or neither.
type E2ERole int

const (
	E2ENone E2ERole = iota
	E2ESource
	E2EDestination
)

// Task is an immutable per-issue record handed from the supervisor's
// dispatch loop to an idle worker.
type Task struct {
	Op         seeklist.OpType
	OpNumber   int64
	ByteOffset int64
	Length     int64
}

// DirectIOBackend is implemented by backends that can drop O_DIRECT
// mid-pass when an operation isn't alignment-compatible.
type DirectIOBackend interface {
	interfaces.Backend
	DirectIO() bool
	DisableDirectIOForRemainder() error
}

// Config wires a Worker to its collaborators. TargetIndex/Index are
// used only for logging and error attribution.
type Config struct {
	TargetIndex int
	Index       int

	Backend  interfaces.Backend
	TOT      *tot.TOT
	Ordering Ordering

	Buffer []byte

	Conn    transport.Connection
	E2ERole E2ERole

	Observer interfaces.Observer
	Logger   *logging.Logger
	Throttle *rate.Limiter

	// BlockSize > 0 enables the direct-I/O alignment check: an
	// offset/length not a multiple of the page size forces
	// DisableDirectIOForRemainder.
	BlockSize int64
}

// Worker is one concurrent I/O issuer bound to exactly one target.
type Worker struct {
	targetIndex int
	index       int

	backend  interfaces.Backend
	tot      *tot.TOT
	ordering Ordering
	buffer   []byte

	conn    transport.Connection
	e2eRole E2ERole

	observer  interfaces.Observer
	log       *logging.Logger
	throttle  *rate.Limiter
	blockSize int64

	state         atomic.Uint32
	currentOffset atomic.Int64 // last task's byte offset, read by the restart monitor
	eofReceived   atomic.Bool

	tasks chan Task
	avail chan<- int // worker sends its own index back here when idle

	directIOEnabled atomic.Bool
}

// New constructs a worker; the caller (target supervisor) retains the
// task and availability channels.
func New(cfg Config, tasks chan Task, avail chan<- int) *Worker {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	w := &Worker{
		targetIndex: cfg.TargetIndex,
		index:       cfg.Index,
		backend:     cfg.Backend,
		tot:         cfg.TOT,
		ordering:    cfg.Ordering,
		buffer:      cfg.Buffer,
		conn:        cfg.Conn,
		e2eRole:     cfg.E2ERole,
		observer:    cfg.Observer,
		log:         log.WithTarget(cfg.TargetIndex).WithWorker(cfg.Index),
		throttle:    cfg.Throttle,
		blockSize:   cfg.BlockSize,
		tasks:       tasks,
		avail:       avail,
	}
	if db, ok := cfg.Backend.(DirectIOBackend); ok {
		w.directIOEnabled.Store(db.DirectIO())
	}
	w.state.Store(uint32(Init))
	return w
}

// Index returns the worker's slot number within its target.
func (w *Worker) Index() int { return w.index }

// State returns the worker's current state bitmask.
func (w *Worker) State() State { return State(w.state.Load()) }

// CurrentOffset returns the byte offset of the worker's most recently
// dispatched task, for the restart monitor's lowest-offset computation.
func (w *Worker) CurrentOffset() int64 { return w.currentOffset.Load() }

// EOFReceived reports whether this worker's E2E connection has reached
// end of stream.
func (w *Worker) EOFReceived() bool { return w.eofReceived.Load() }

func (w *Worker) setState(s State) { w.state.Store(uint32(s)) }

// Run is the worker's goroutine entry point: it blocks on the task
// channel, executing ExecuteTask once per dispatch, and hands itself
// back to the availability channel after each task (and once more at
// startup, so the supervisor's dispatch loop sees it as idle from the
// first moment).
func (w *Worker) Run(ctx context.Context) {
	w.setState(Idle)
	w.signalAvailable()

	for {
		w.setState(TaskWait)
		select {
		case <-ctx.Done():
			w.setState(PassComplete)
			return
		case task, ok := <-w.tasks:
			if !ok {
				w.setState(PassComplete)
				return
			}
			if err := w.ExecuteTask(ctx, task); err != nil {
				w.log.Debug("task failed", "op", task.Op.String(), "offset", task.ByteOffset, "error", err)
			}
			w.setState(Idle)
			w.signalAvailable()
		}
	}
}

func (w *Worker) signalAvailable() {
	if w.avail == nil {
		return
	}
	select {
	case w.avail <- w.index:
	default:
		// Buffered channel should never be full in well-formed dispatch
		// (capacity == queue depth, one slot per worker); a full send
		// here would indicate a supervisor bug, not a runtime condition
		// to recover from silently, so fall through to a blocking send.
		w.avail <- w.index
	}
}

// ExecuteTask runs the exact 8-step procedure the worker state machine
// follows for one task: E2E destination receive, TOT wait, loose early
// release, direct-I/O alignment check, I/O dispatch, counter update,
// TOT release, E2E source send.
func (w *Worker) ExecuteTask(ctx context.Context, task Task) error {
	start := time.Now()
	w.currentOffset.Store(task.ByteOffset)

	releasePending := w.ordering != OrderingNone
	var releaseErr error
	defer func() {
		// Guarantees the slot is released even on I/O error, context
		// cancellation, or an E2E destination hitting Eof: an erroring or
		// EOF'd worker must not wedge its successor's WaitForPrevious
		// forever, and ordering peers must be notified of Eof too.
		if releasePending {
			releaseErr = w.tot.ReleaseNext(task.OpNumber, w.index, task.ByteOffset, task.Length)
		}
	}()

	// Step 1: E2E destination pre-I/O receive.
	if w.e2eRole == E2EDestination {
		w.setState(DestRecv)
		tb, err := w.conn.ReceiveTargetBuffer(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.eofReceived.Store(true)
				return nil
			}
			return err
		}
		task.ByteOffset = tb.TargetOffset
		task.Length = tb.DataLength
		if int64(len(w.buffer)) >= tb.DataLength {
			copy(w.buffer[:tb.DataLength], tb.Data)
		}
		w.conn.ReleaseTargetBuffer(tb)
	}

	// Step 2: TOT wait.
	if w.ordering != OrderingNone {
		w.setState(WaitTOTWait)
		if err := w.tot.WaitForPrevious(ctx, task.OpNumber, w.index); err != nil {
			return err
		}
	}

	// Step 3: loose early release, so the successor may proceed before
	// this op's I/O has actually completed.
	if w.ordering == OrderingLoose {
		w.setState(WaitTOTRelease)
		if err := w.tot.ReleaseNext(task.OpNumber, w.index, task.ByteOffset, task.Length); err != nil {
			return err
		}
	}

	// Step 4: direct-I/O alignment check.
	if w.blockSize > 0 && w.directIOEnabled.Load() {
		page := int64(os.Getpagesize())
		if task.ByteOffset%page != 0 || task.Length%page != 0 {
			if db, ok := w.backend.(DirectIOBackend); ok {
				if err := db.DisableDirectIOForRemainder(); err != nil {
					w.log.Warn("failed to disable direct I/O", "error", err)
				} else {
					w.directIOEnabled.Store(false)
				}
			}
		}
	}
	if w.throttle != nil {
		if err := w.throttle.WaitN(ctx, int(task.Length)); err != nil {
			return err
		}
	}

	// Step 5: I/O dispatch.
	w.setState(IO)
	n, ioErr := w.dispatchIO(task)
	latencyNs := uint64(time.Since(start).Nanoseconds())
	w.observe(task.Op, uint64(n), latencyNs, ioErr == nil)
	if ioErr != nil {
		return ioErr
	}

	// Step 6: counter update + TOT update.
	if w.ordering != OrderingNone {
		w.setState(WaitTOTUpdate)
		w.tot.Update(task.OpNumber, task.ByteOffset, task.Length)
	}

	// Loose ordering waits a second time to observe the predecessor's
	// actual I/O completion (satisfied by the predecessor's own
	// post-I/O ReleaseNext), then releases a second time. This is the
	// "release twice under loose" sequencing: internal/tot has no
	// special case for it, it's purely this calling convention.
	if w.ordering == OrderingLoose {
		w.setState(WaitPreviousIO)
		if err := w.tot.WaitForPrevious(ctx, task.OpNumber, w.index); err != nil {
			return err
		}
	}

	// Step 7: TOT release happens in the deferred call above for every
	// ordering mode except none.

	// Step 8: E2E source post-I/O send.
	if w.e2eRole == E2ESource {
		w.setState(SrcSend)
		tb := &transport.TargetBuffer{
			Data:         w.buffer[:task.Length],
			TargetOffset: task.ByteOffset,
			DataLength:   task.Length,
		}
		if err := w.conn.SendTargetBuffer(ctx, tb); err != nil {
			return err
		}
	}

	return releaseErr
}

func (w *Worker) dispatchIO(task Task) (int, error) {
	switch task.Op {
	case seeklist.OpRead:
		return w.backend.ReadAt(w.buffer[:task.Length], task.ByteOffset)
	case seeklist.OpWrite:
		return w.backend.WriteAt(w.buffer[:task.Length], task.ByteOffset)
	case seeklist.OpNoop:
		return 0, w.backend.Noop(task.ByteOffset, task.Length)
	default:
		return 0, nil
	}
}

func (w *Worker) observe(op seeklist.OpType, bytes uint64, latencyNs uint64, success bool) {
	if w.observer == nil {
		return
	}
	switch op {
	case seeklist.OpRead:
		w.observer.ObserveRead(bytes, latencyNs, success)
	case seeklist.OpWrite:
		w.observer.ObserveWrite(bytes, latencyNs, success)
	case seeklist.OpNoop:
		w.observer.ObserveNoop(latencyNs, success)
	}
}
