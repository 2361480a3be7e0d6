package xsync

import "sync"

// BarrierSnapshot is a point-in-time view of one registered barrier, for
// the interactive/debug enumeration path: list every barrier, its party
// count, and who's currently waiting with their entry time.
type BarrierSnapshot struct {
	Name      string
	Parties   int
	Occupants []Occupant
}

// Registry tracks every barrier created during a run. It is owned by the
// plan coordinator (one per Plan.Run invocation), never a package-level
// global, so concurrent test runs and repeated Run calls in the same
// process don't share state.
type Registry struct {
	mu       sync.Mutex
	barriers []*Barrier
}

// NewRegistry creates an empty barrier registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewBarrier creates a barrier and registers it for teardown/enumeration.
func (r *Registry) NewBarrier(name string, parties int) *Barrier {
	b := NewBarrier(name, parties)
	r.mu.Lock()
	r.barriers = append(r.barriers, b)
	r.mu.Unlock()
	return b
}

// Snapshot returns the current roster of every registered barrier, for
// the interactive/debug path.
func (r *Registry) Snapshot() []BarrierSnapshot {
	r.mu.Lock()
	barriers := make([]*Barrier, len(r.barriers))
	copy(barriers, r.barriers)
	r.mu.Unlock()

	out := make([]BarrierSnapshot, 0, len(barriers))
	for _, b := range barriers {
		out = append(out, BarrierSnapshot{
			Name:      b.Name(),
			Parties:   b.Parties(),
			Occupants: b.Roster(),
		})
	}
	return out
}

// DestroyAll tears down every registered barrier, releasing any waiters.
// Safe to call more than once; destroying an already-destroyed or
// never-used barrier is a no-op.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	barriers := make([]*Barrier, len(r.barriers))
	copy(barriers, r.barriers)
	r.mu.Unlock()

	for _, b := range barriers {
		b.destroy()
	}
}
