package backend

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xdd-project/xdd/internal/interfaces"
)

// blkGetSize64 is Linux's BLKGETSIZE64 ioctl request number: fetch a
// block device's size in bytes.
const blkGetSize64 = 0x80081272

// BlockDevice is the "blockdev" target kind: a raw block device node,
// sized via BLKGETSIZE64 rather than stat (block devices report 0 from
// Stat().Size()).
type BlockDevice struct {
	*File
}

// OpenBlockDevice opens a block device node.
func OpenBlockDevice(path string, opts Options) (*BlockDevice, error) {
	f, err := OpenFile(path, opts)
	if err != nil {
		return nil, err
	}

	size, err := blockDeviceSize(int(f.f.Fd()))
	if err == nil && size > 0 {
		f.size = size
	}

	return &BlockDevice{File: f}, nil
}

func blockDeviceSize(fd int) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(blkGetSize64), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}

var _ interfaces.Backend = (*BlockDevice)(nil)
