// Package lockstep couples a master target to one or more slave targets
// so a slave advances only while the master is at least a configured
// interval (in ops or bytes) ahead of it, and a master abort cascades to
// every slave.
package lockstep

import (
	"context"
	"sync"
)

// Unit selects whether Interval counts operations or bytes.
type Unit int

const (
	UnitOps Unit = iota
	UnitBytes
)

// Coupling gates a single slave's advance against its master.
type Coupling struct {
	Interval int64
	Unit     Unit

	mu          sync.Mutex
	cond        *sync.Cond
	masterCount int64
	slaveCount  int64
	aborted     bool
}

// NewCoupling constructs a master/slave pair in which the slave blocks
// whenever the master is less than interval ops or bytes (per unit) ahead
// of it.
func NewCoupling(interval int64, unit Unit) *Coupling {
	c := &Coupling{Interval: interval, Unit: unit}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// AdvanceMaster records progress made by the master side and wakes any
// slave blocked waiting for headroom.
func (c *Coupling) AdvanceMaster(n int64) {
	c.mu.Lock()
	c.masterCount += n
	c.mu.Unlock()
	c.cond.Broadcast()
}

// WaitForHeadroom blocks the slave until the master is at least
// c.Interval ahead of the slave's count, the master has aborted, or ctx
// is cancelled.
func (c *Coupling) WaitForHeadroom(ctx context.Context, slaveCount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-done:
		}
	}()

	for !c.aborted && c.masterCount-slaveCount < c.Interval {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.cond.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Abort marks the coupling aborted, cascading termination to every
// slave blocked in WaitForHeadroom.
func (c *Coupling) Abort() {
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Aborted reports whether the master side has aborted the coupling.
func (c *Coupling) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// MasterCount returns the master's current op/byte count.
func (c *Coupling) MasterCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masterCount
}

// Group couples one master to many slaves, so a single abort cascades
// to all of them at once.
type Group struct {
	mu        sync.Mutex
	couplings []*Coupling
}

// NewGroup constructs an empty lockstep group.
func NewGroup() *Group {
	return &Group{}
}

// Add registers a slave coupling with the group.
func (g *Group) Add(c *Coupling) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.couplings = append(g.couplings, c)
}

// AdvanceMaster propagates master progress to every coupled slave.
func (g *Group) AdvanceMaster(n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.couplings {
		c.AdvanceMaster(n)
	}
}

// AbortAll cascades termination to every slave coupling in the group.
func (g *Group) AbortAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.couplings {
		c.Abort()
	}
}
