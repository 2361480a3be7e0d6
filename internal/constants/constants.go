// Package constants holds the tunables and defaults shared across the
// xdd engine.
package constants

import "time"

// Default configuration constants.
const (
	// DefaultQueueDepth is the default number of concurrent workers per target.
	DefaultQueueDepth = 4

	// DefaultBlockSize is the default block size in bytes.
	DefaultBlockSize = 512

	// DefaultTransferSize is the default per-operation transfer size in bytes (1MB).
	DefaultTransferSize = 1 << 20

	// DefaultPasses is the default number of passes over a target's seek list.
	DefaultPasses = 1

	// AutoDetectQueues is a zero queue-count value kept from the teacher's
	// constants; no package in this module reads it.
	AutoDetectQueues = 0
)

// Timing constants governing supervisor/worker polling loops.
const (
	// CheckpointPollInterval equals the period restart.Monitor.Run falls
	// back to when given a non-positive one; Run spells that fallback as
	// time.Second rather than reading this constant. The monitor rewrites
	// the restart file on every tick, whether or not the offset changed.
	CheckpointPollInterval = 1 * time.Second

	// DeviceStartupDelay mirrors the teacher's kernel-settle delay. No
	// supervisor or backend in this module waits on it.
	DeviceStartupDelay = 50 * time.Millisecond
)

// Memory allocation constants.
const (
	// E2EHeaderSize is the fixed size, in bytes, of the on-wire E2E header (§3).
	E2EHeaderSize = 64

	// TCPWireHeaderSize is the fixed size of the TCP transport's per-message header.
	TCPWireHeaderSize = 20

	// IBCredFrameSize is the size of an IB CRED control frame (tag + count).
	IBCredFrameSize = 8

	// IBTagSize is the size of the IB message-kind tag (DATA/EOF ).
	IBTagSize = 4
)
