// Package iobuf allocates the page-aligned I/O buffers a target's
// workers issue reads and writes through. It generalizes go-ublk's
// mmapQueues: instead of mapping a kernel-owned descriptor array plus an
// anonymous per-tag buffer, a Pool allocates one target buffer at a
// time, sized per the role-based extra-page rule non-E2E/E2E transfers
// need.
package iobuf

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/xdd-project/xdd/internal/logging"
)

// Role selects how many extra pages Allocate reserves ahead of the
// page-aligned payload region.
type Role int

const (
	// RolePlain is a non-E2E buffer: payload only, no extra pages.
	RolePlain Role = iota
	// RoleE2EUnregistered is an E2E buffer on a transport that does not
	// register buffers with the peer: one extra page precedes the
	// payload for the on-wire header.
	RoleE2EUnregistered
	// RoleE2ERegistered is an E2E buffer on a transport that registers
	// buffers (e.g. reserves framing space itself): two extra pages
	// precede the payload, keeping the payload page-aligned.
	RoleE2ERegistered
)

func (r Role) extraPages() int {
	switch r {
	case RoleE2EUnregistered:
		return 1
	case RoleE2ERegistered:
		return 2
	default:
		return 0
	}
}

// Buffer is one allocated I/O region. Data is the page-aligned payload;
// Header is only valid for E2E roles and addresses the page(s) that
// precede it.
type Buffer struct {
	mem       []byte
	headerLen int
	shared    bool
	shmID     int
}

// Data returns the page-aligned payload region.
func (b *Buffer) Data() []byte {
	return b.mem[b.headerLen:]
}

// Header returns the region preceding the payload, valid only when the
// buffer was allocated with a non-zero Role.
func (b *Buffer) Header() []byte {
	return b.mem[:b.headerLen]
}

// Pool hands out page-aligned I/O buffers through Allocate. The target
// supervisor does not use it: NewSupervisor gives each worker a
// page-rounded heap slice, so shared memory and mlock apply only to
// buffers obtained from a Pool directly.
type Pool struct {
	mu          sync.Mutex
	shared      bool
	log         *logging.Logger
	allocations []*Buffer
}

// Config controls a Pool's backing memory strategy.
type Config struct {
	// SharedMemory requests a System-V shared segment instead of an
	// anonymous mmap, when the platform supports it (Linux only).
	SharedMemory bool
	Logger       *logging.Logger
}

// NewPool creates a buffer pool for one target.
func NewPool(cfg Config) *Pool {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Pool{shared: cfg.SharedMemory, log: log}
}

// Allocate reserves a buffer sized to fit xferSize bytes of payload plus
// role.extraPages() extra pages ahead of it, all page-rounded. Returns
// an error on hard allocation failure, which the caller (target
// supervisor init) must treat as an initialization error.
func (p *Pool) Allocate(xferSize int, role Role) (*Buffer, error) {
	if xferSize <= 0 {
		return nil, fmt.Errorf("iobuf: xferSize must be positive, got %d", xferSize)
	}

	pageSize := unix.Getpagesize()
	payloadPages := roundUpPages(xferSize, pageSize)
	headerLen := role.extraPages() * pageSize
	totalLen := headerLen + payloadPages*pageSize

	mem, shmID, err := p.allocate(totalLen)
	if err != nil {
		return nil, fmt.Errorf("iobuf: allocate %d bytes: %w", totalLen, err)
	}

	if err := unix.Mlock(mem); err != nil {
		p.log.Warn("mlock failed, continuing without locked memory", "error", err, "bytes", totalLen)
	}

	buf := &Buffer{mem: mem, headerLen: headerLen, shared: shmID >= 0, shmID: shmID}
	p.mu.Lock()
	p.allocations = append(p.allocations, buf)
	p.mu.Unlock()
	return buf, nil
}

func roundUpPages(n, pageSize int) int {
	pages := n / pageSize
	if n%pageSize != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}

// allocate picks the backing memory strategy: a System-V shared segment
// when requested and supported, otherwise an anonymous page-aligned
// mapping. The returned shmID is -1 for a plain mmap.
func (p *Pool) allocate(length int) ([]byte, int, error) {
	if p.shared {
		mem, shmID, err := allocateShared(length)
		if err == nil {
			return mem, shmID, nil
		}
		p.log.Warn("shared memory allocation failed, falling back to anonymous mmap", "error", err)
	}

	mem, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, -1, err
	}
	return mem, -1, nil
}

// Release unmaps every buffer this pool allocated. Called during target
// supervisor teardown.
func (p *Pool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, buf := range p.allocations {
		if buf.shared {
			if err := detachShared(buf.mem, buf.shmID); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := unix.Munmap(buf.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.allocations = nil
	return firstErr
}
