// Command xdd is a minimal CLI front end over the plan coordinator: it
// parses a single target's flags, builds a Plan, runs it, and maps the
// result to a process exit code. The full multi-target flag grammar
// (target N/previous qualifiers, multiple -target entries, E2E
// destination wiring) is intentionally thin here; the coordinator and
// target packages carry the real behavior.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	xdd "github.com/xdd-project/xdd"
	"github.com/xdd-project/xdd/internal/backend"
	"github.com/xdd-project/xdd/internal/logging"
	"github.com/xdd-project/xdd/internal/seeklist"
	"github.com/xdd-project/xdd/internal/target"
	"github.com/xdd-project/xdd/internal/worker"
	"github.com/xdd-project/xdd/plan"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		targetPath  = flag.String("target", "", "target path (file, block device, or host:port for sockets)")
		kindStr     = flag.String("kind", "file", "target kind: file, blockdev, chardev, socket, null, memory, sg")
		op          = flag.String("op", "write", "operation: read or write")
		reqSize     = flag.String("reqsize", "1M", "per-operation transfer size")
		blockSize   = flag.Int64("blocksize", 512, "block size in bytes")
		numReqs     = flag.Int("numreqs", 1024, "number of operations per pass")
		queueDepth  = flag.Int("queuedepth", 4, "number of concurrent workers")
		passes      = flag.Int("passes", 1, "number of passes")
		rwRatio     = flag.Float64("rwratio", 0.0, "read fraction, 0.0=pure write, 1.0=pure read")
		startOffset = flag.Int64("startoffset", 0, "starting byte offset")
		passOffset  = flag.Int64("passoffset", 0, "per-pass offset shift")
		dio         = flag.Bool("dio", false, "enable direct I/O")
		syncWrite   = flag.Bool("syncwrite", false, "flush after every pass")
		sharedMem   = flag.Bool("sharedmemory", false, "record a shared-memory request in the target config (worker buffers are heap slices either way)")
		ordering    = flag.String("ordering", "none", "ordering mode: none, loose, serial")
		timeLimit   = flag.Float64("timelimit", 0, "per-pass time limit in seconds, 0 disables")
		restartFreq = flag.Float64("restart", 0, "restart checkpoint period in seconds, 0 disables")
		heartbeat   = flag.Float64("heartbeat", 0, "heartbeat period in seconds, 0 disables")
		verbose     = flag.Bool("verbose", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if *targetPath == "" {
		fmt.Fprintln(os.Stderr, "xdd: -target is required")
		return 1
	}

	kind, err := parseKind(*kindStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xdd: %v\n", err)
		return 1
	}
	ord, err := parseOrdering(*ordering)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xdd: %v\n", err)
		return 1
	}
	xferSize, err := parseSize(*reqSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xdd: invalid -reqsize %q: %v\n", *reqSize, err)
		return 1
	}

	ratio := *rwRatio
	if strings.EqualFold(*op, "read") {
		ratio = 1.0
	}

	cfg := plan.Plan{
		ProgName:      "xdd",
		Passes:        *passes,
		Logger:        logger,
		Heartbeat:     durationFromSeconds(*heartbeat),
		RestartPeriod: durationFromSeconds(*restartFreq),
		Targets: []target.Config{{
			Index:        0,
			Path:         *targetPath,
			Kind:         kind,
			BlockSize:    *blockSize,
			TransferSize: xferSize,
			StartOffset:  *startOffset,
			PassOffset:   *passOffset,
			Operations:   *numReqs,
			RWRatio:      ratio,
			QueueDepth:   *queueDepth,
			Passes:       *passes,
			TimeLimit:    durationFromSeconds(*timeLimit),
			DirectIO:     *dio,
			SyncWrite:    *syncWrite,
			SharedMemory: *sharedMem,
			SeekPattern:  seeklist.PatternSequential,
			Ordering:     ord,
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	installSignalHandlers(logger, cancel)

	result, err := plan.Run(ctx, cfg, plan.RunOptions{})
	if err != nil {
		logger.Error("run failed", "error", err)
		return xdd.ExitCode(err)
	}

	logger.Info("run complete", "start", result.RunStartTime, "end", result.RunEndTime,
		"elapsed", result.RunEndTime.Sub(result.RunStartTime))
	return 0
}

// installSignalHandlers wires SIGINT/SIGTERM to cancel, and SIGUSR1 to
// dump every goroutine's stack to stderr and a file, for debugging a
// run that appears stuck.
func installSignalHandlers(logger *logging.Logger, cancel context.CancelFunc) {
	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])
			filename := fmt.Sprintf("xdd-stacks-%d.txt", time.Now().Unix())
			if f, ferr := os.Create(filename); ferr == nil {
				fmt.Fprintf(f, "goroutine dump at %s\n\n", time.Now().Format(time.RFC3339))
				f.Write(buf[:n])
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack dump written", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()
}

func parseKind(s string) (backend.Kind, error) {
	switch strings.ToLower(s) {
	case "file":
		return backend.KindFile, nil
	case "blockdev":
		return backend.KindBlockDevice, nil
	case "chardev":
		return backend.KindCharDevice, nil
	case "socket":
		return backend.KindSocket, nil
	case "null":
		return backend.KindNull, nil
	case "memory":
		return backend.KindMemory, nil
	case "sg":
		return backend.KindSCSIGeneric, nil
	default:
		return 0, fmt.Errorf("unknown -kind %q", s)
	}
}

func parseOrdering(s string) (worker.Ordering, error) {
	switch strings.ToLower(s) {
	case "none":
		return worker.OrderingNone, nil
	case "loose":
		return worker.OrderingLoose, nil
	case "serial":
		return worker.OrderingSerial, nil
	default:
		return 0, fmt.Errorf("unknown -ordering %q", s)
	}
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
