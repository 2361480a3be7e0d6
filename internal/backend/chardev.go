package backend

import (
	"os"

	"github.com/xdd-project/xdd/internal/interfaces"
)

// CharDevice is the "chardev" target kind: a character device node
// (tape drives, /dev/null-alikes) that doesn't support random-access
// ReadAt/WriteAt semantics in the general case. xdd still issues
// sequential reads/writes against the current file position, ignoring
// the requested offset — seek lists against character devices are
// expected to be monotonic. Neither this backend nor NewSupervisor checks
// the seek pattern: a random-pattern seek list against a character device
// is issued at the device's current position, whatever its offsets.
type CharDevice struct {
	f    *os.File
	size int64
}

// OpenCharDevice opens a character device node for sequential access.
func OpenCharDevice(path string, opts Options) (*CharDevice, error) {
	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	return &CharDevice{f: f, size: opts.Size}, nil
}

func (c *CharDevice) ReadAt(p []byte, off int64) (int, error) {
	return c.f.Read(p)
}

func (c *CharDevice) WriteAt(p []byte, off int64) (int, error) {
	return c.f.Write(p)
}

func (c *CharDevice) Noop(off int64, length int64) error { return nil }

// Size returns the configured nominal size, since character devices
// don't report a meaningful length of their own.
func (c *CharDevice) Size() int64 { return c.size }

func (c *CharDevice) Close() error { return c.f.Close() }

func (c *CharDevice) Flush() error { return c.f.Sync() }

var _ interfaces.Backend = (*CharDevice)(nil)
