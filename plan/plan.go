// Package plan is xdd's public entry point: it holds the process-wide
// run configuration and brings up every target supervisor, the barrier
// registry, and the supporting goroutines (heartbeat, restart monitor)
// that a run needs. It starts no transport subsystem and no reporter.
package plan

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	xdd "github.com/xdd-project/xdd"
	"github.com/xdd-project/xdd/internal/logging"
	"github.com/xdd-project/xdd/internal/restart"
	"github.com/xdd-project/xdd/internal/target"
	"github.com/xdd-project/xdd/internal/xsync"
)

// Plan is the immutable, process-wide configuration for one run. It
// folds in the "global" settings a process-wide package-level variable
// would otherwise hold, per the teacher's own preference for explicit
// dependency injection over package globals.
type Plan struct {
	ProgName string
	Targets  []target.Config

	Passes       int
	PassDelay    time.Duration
	RunTimeLimit time.Duration

	Heartbeat     time.Duration
	RestartPeriod time.Duration
	Interactive   bool

	Output    io.Writer
	ErrOutput io.Writer
	Logger    *logging.Logger
	Observer  xdd.Observer
}

// RunOptions controls behavior that doesn't belong in the immutable
// Plan itself (dependency injection points for tests, mainly).
type RunOptions struct {
	// Now lets tests substitute a fake clock; nil uses time.Now.
	Now func() time.Time
}

// Result is returned by Run once every target supervisor has finished
// (or the run was aborted).
type Result struct {
	RunStartTime time.Time
	RunEndTime   time.Time
}

// Run is the plan coordinator's bring-up sequence: barrier registry,
// every target supervisor constructed and awaited at a general-init
// barrier, then the restart monitor and heartbeat goroutines, then the
// global start/end-of-pass barriers are driven once per pass by a
// dedicated coordinator goroutine while every target's workers and pass
// loop run concurrently under an errgroup. On any return path — clean
// completion, a target error, or ctx cancellation — it destroys every
// barrier and waits for every goroutine before returning.
func Run(ctx context.Context, p Plan, opts RunOptions) (*Result, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	log := p.Logger
	if log == nil {
		log = logging.Default()
	}
	if p.Output == nil {
		p.Output = os.Stdout
	}

	if len(p.Targets) == 0 {
		return nil, xdd.NewError("plan.Run", xdd.CodeConfiguration, "no targets configured")
	}
	passes := p.Passes
	if passes < 1 {
		passes = 1
	}

	registry := xsync.NewRegistry()
	defer registry.DestroyAll()

	initBarrier := registry.NewBarrier("general-init", len(p.Targets)+1)
	startBarrier := registry.NewBarrier("start-of-pass", len(p.Targets)+1)
	endBarrier := registry.NewBarrier("end-of-pass", len(p.Targets)+1)

	group, gctx := errgroup.WithContext(ctx)

	supervisors := make([]*target.Supervisor, len(p.Targets))
	for i, cfg := range p.Targets {
		if cfg.Logger == nil {
			cfg.Logger = log
		}
		if cfg.Observer == nil {
			cfg.Observer = p.Observer
		}
		if cfg.Passes == 0 {
			cfg.Passes = passes
		}
		sup, err := target.NewSupervisor(ctx, cfg)
		if err != nil {
			return nil, xdd.WrapError("plan.Run", i, -1, err)
		}
		supervisors[i] = sup

		// Each target supervisor is brought up one by one and joins the
		// general-init barrier from its own goroutine; the coordinator's
		// join below is the last party and releases them all.
		occupant := xsync.Occupant{Name: fmt.Sprintf("target-%d-init", i), Kind: xsync.OccupantTarget}
		go func() { _ = initBarrier.Wait(ctx, occupant, false) }()
	}
	if err := initBarrier.Wait(ctx, xsync.Occupant{Name: "coordinator-init", Kind: xsync.OccupantMain}, true); err != nil {
		return nil, xdd.WrapError("plan.Run", -1, -1, err)
	}

	runStart := now()

	if p.RestartPeriod > 0 {
		monitor := restart.NewMonitor(log)
		restartTargets := make([]restart.Target, len(supervisors))
		for i, sup := range supervisors {
			restartTargets[i] = sup
		}
		group.Go(func() error {
			monitor.Run(gctx, restartTargets, p.RestartPeriod)
			return nil
		})
	}

	if p.Heartbeat > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(p.Heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					log.Info("heartbeat", "targets", len(supervisors))
				}
			}
		})
	}

	// Workers run under their own cancellable context, separate from
	// gctx: they have no natural end-of-work signal (they park on their
	// task channel forever), so once every target's pass loop has
	// finished, workerCancel is what tells them to exit. Deriving them
	// from gctx too means an early target error still reaches them.
	workerCtx, workerCancel := context.WithCancel(gctx)
	defer workerCancel()

	var workerWG errgroup.Group
	for _, sup := range supervisors {
		for _, w := range sup.Workers() {
			w := w
			workerWG.Go(func() error {
				w.Run(workerCtx)
				return nil
			})
		}
	}

	for i, sup := range supervisors {
		i, sup := i, sup
		group.Go(func() error {
			return sup.RunPasses(gctx,
				barrierWaiter(startBarrier, fmt.Sprintf("target-%d-start", i)),
				barrierWaiter(endBarrier, fmt.Sprintf("target-%d-end", i)))
		})
	}

	// The coordinator is the "+1" party at both the start and end
	// barriers; it joins once per pass, in lockstep with every target's
	// own RunPasses loop, and releasing the start-of-pass barrier is
	// what lets every target's dispatch loop begin that pass.
	group.Go(func() error {
		for pass := 0; pass < passes; pass++ {
			if err := startBarrier.Wait(gctx, xsync.Occupant{Name: "coordinator-start", Kind: xsync.OccupantMain}, false); err != nil {
				return err
			}
			if err := endBarrier.Wait(gctx, xsync.Occupant{Name: "coordinator-end", Kind: xsync.OccupantMain}, true); err != nil {
				return err
			}
		}
		return nil
	})

	runErr := group.Wait()
	workerCancel()
	_ = workerWG.Wait()

	for _, sup := range supervisors {
		_ = sup.Close()
	}

	result := &Result{RunStartTime: runStart, RunEndTime: now()}
	return result, runErr
}

func barrierWaiter(b *xsync.Barrier, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		return b.Wait(ctx, xsync.Occupant{Name: name, Kind: xsync.OccupantTarget}, false)
	}
}
