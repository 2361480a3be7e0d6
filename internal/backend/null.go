package backend

import "github.com/xdd-project/xdd/internal/interfaces"

// Null is the "null" target kind: reads return zero-filled buffers,
// writes are discarded. It exists to exercise the worker/TOT/transport
// pipeline at the fastest possible storage path, for timing harnesses
// and tests that don't need real persistence.
type Null struct {
	size int64
}

// NewNull creates a null backend reporting the given size.
func NewNull(size int64) *Null {
	return &Null{size: size}
}

func (n *Null) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (n *Null) WriteAt(p []byte, off int64) (int, error) {
	return len(p), nil
}

func (n *Null) Noop(off int64, length int64) error { return nil }

func (n *Null) Size() int64 { return n.size }

func (n *Null) Close() error { return nil }

func (n *Null) Flush() error { return nil }

var _ interfaces.Backend = (*Null)(nil)
