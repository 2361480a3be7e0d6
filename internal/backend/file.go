package backend

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/xdd-project/xdd/internal/interfaces"
)

// File is the "file" target kind: a regular file opened with
// ReadAt/WriteAt semantics, optionally O_DIRECT.
type File struct {
	f        *os.File
	mu       sync.Mutex // serializes the direct-I/O disable transition
	direct   bool
	size     int64
}

// OpenFile opens or creates a file-backed target.
func OpenFile(path string, opts Options) (*File, error) {
	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	if opts.Create {
		flags |= os.O_CREATE
	}
	if opts.DirectIO {
		flags |= unix.O_DIRECT
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil && opts.DirectIO {
		// Some filesystems (tmpfs, overlay) reject O_DIRECT outright;
		// retry without it rather than failing target initialization.
		f, err = os.OpenFile(path, flags&^unix.O_DIRECT, 0o644)
		opts.DirectIO = false
	}
	if err != nil {
		return nil, err
	}

	size := opts.Size
	if size > 0 {
		if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
			// Sparse filesystems and some container overlays don't
			// support fallocate; a best-effort truncate still gives the
			// backend the right apparent size.
			_ = f.Truncate(size)
		}
	} else {
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
	}

	return &File{f: f, direct: opts.DirectIO, size: size}, nil
}

func (fl *File) ReadAt(p []byte, off int64) (int, error) {
	return fl.f.ReadAt(p, off)
}

func (fl *File) WriteAt(p []byte, off int64) (int, error) {
	return fl.f.WriteAt(p, off)
}

func (fl *File) Noop(off int64, length int64) error { return nil }

func (fl *File) Size() int64 { return fl.size }

func (fl *File) Close() error { return fl.f.Close() }

func (fl *File) Flush() error { return fl.f.Sync() }

func (fl *File) Sync() error { return fl.f.Sync() }

func (fl *File) SyncRange(offset, length int64) error {
	return unix.Fdatasync(int(fl.f.Fd()))
}

// DirectIO reports whether this file was opened with O_DIRECT.
func (fl *File) DirectIO() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.direct
}

// DisableDirectIOForRemainder reopens the file without O_DIRECT, for the
// worker's alignment-check fallback path (an unaligned offset/length
// under O_DIRECT returns EINVAL on Linux).
func (fl *File) DisableDirectIOForRemainder() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if !fl.direct {
		return nil
	}

	name := fl.f.Name()
	if err := fl.f.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(name, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	fl.f = f
	fl.direct = false
	return nil
}

var (
	_ interfaces.Backend     = (*File)(nil)
	_ interfaces.SyncBackend = (*File)(nil)
)
