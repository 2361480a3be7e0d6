package xdd

import "github.com/xdd-project/xdd/internal/constants"

// Re-exported defaults for the public API.
const (
	DefaultQueueDepth    = constants.DefaultQueueDepth
	DefaultBlockSize     = constants.DefaultBlockSize
	DefaultTransferSize  = constants.DefaultTransferSize
	DefaultPasses        = constants.DefaultPasses
	AutoDetectQueues     = constants.AutoDetectQueues
	E2EHeaderSize        = constants.E2EHeaderSize
)
