// Package backend implements every target backend kind: the storage or
// network endpoint a worker issues ReadAt/WriteAt/Noop against. Kind
// dispatch (Open) is in scope; OS-specific open-flag translation beyond
// the Linux reference path is not (see SPEC_FULL.md's non-goals).
package backend

import (
	"fmt"

	"github.com/xdd-project/xdd/internal/interfaces"
)

// Kind identifies which backend implementation Open should construct.
type Kind int

const (
	KindFile Kind = iota
	KindBlockDevice
	KindCharDevice
	KindSocket
	KindNull
	KindMemory
	KindSCSIGeneric
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindBlockDevice:
		return "blockdev"
	case KindCharDevice:
		return "chardev"
	case KindSocket:
		return "socket"
	case KindNull:
		return "null"
	case KindMemory:
		return "memory"
	case KindSCSIGeneric:
		return "sg"
	default:
		return "unknown"
	}
}

// Options controls how Open builds a backend.
type Options struct {
	// DirectIO requests O_DIRECT on platforms/kinds that support it.
	DirectIO bool
	// ReadOnly opens the backend for reads only.
	ReadOnly bool
	// Create creates a file backend's path if it doesn't already exist.
	Create bool
	// Size is required for KindMemory and used to preallocate KindFile.
	Size int64
}

// Open constructs the backend implementation for kind against path,
// returning an initialization error (wrapped by the caller into the
// xdd error taxonomy) on failure.
func Open(kind Kind, path string, opts Options) (interfaces.Backend, error) {
	switch kind {
	case KindFile:
		return OpenFile(path, opts)
	case KindBlockDevice:
		return OpenBlockDevice(path, opts)
	case KindCharDevice:
		return OpenCharDevice(path, opts)
	case KindSocket:
		return OpenSocket(path, opts)
	case KindNull:
		return NewNull(opts.Size), nil
	case KindMemory:
		return NewMemory(opts.Size), nil
	case KindSCSIGeneric:
		return OpenSCSIGeneric(path, opts)
	default:
		return nil, fmt.Errorf("backend: unknown kind %d", kind)
	}
}
