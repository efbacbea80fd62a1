package jobs

import (
	"context"
	"sync"

	"exposure_backend/platform/docstore"
)

// Counter names used across job kinds.
const (
	CounterProcessed       = "processed"
	CounterGroupsProcessed = "groupsProcessed"
	CounterRowsWritten     = "rowsWritten"
	CounterRemoved         = "removed"
	CounterRestored        = "restored"
	CounterGroupsDeleted   = "groupsDeleted"
	CounterRemovedAgents   = "removedAgents"
	CounterFailures        = "failures"
)

// Counters buffers increments in the worker and flushes them to the job
// document every flushEvery units, or on Flush. A flush is one patch of
// increment operations, so concurrent flushes never lose counts.
type Counters struct {
	mu         sync.Mutex
	store      docstore.Store
	ref        docstore.Ref
	prefix     docstore.Path
	flushEvery int
	pending    map[string]int64
	totals     map[string]int64
	units      int
	onFlush    func(totals map[string]int64)
}

// NewCounters returns counters that flush into ref under prefix.
func NewCounters(store docstore.Store, ref docstore.Ref, prefix docstore.Path, flushEvery int) *Counters {
	if flushEvery < 1 {
		flushEvery = 1
	}
	return &Counters{
		store:      store,
		ref:        ref,
		prefix:     prefix,
		flushEvery: flushEvery,
		pending:    map[string]int64{},
		totals:     map[string]int64{},
	}
}

// OnFlush registers a callback invoked with the running totals after each flush.
func (c *Counters) OnFlush(fn func(totals map[string]int64)) {
	c.mu.Lock()
	c.onFlush = fn
	c.mu.Unlock()
}

// Add buffers delta for name.
func (c *Counters) Add(name string, delta int64) {
	if delta == 0 {
		return
	}
	c.mu.Lock()
	c.pending[name] += delta
	c.totals[name] += delta
	c.mu.Unlock()
}

// UnitDone marks one unit of work finished and flushes when the threshold is reached.
func (c *Counters) UnitDone(ctx context.Context) error {
	c.mu.Lock()
	c.units++
	due := c.units >= c.flushEvery
	c.mu.Unlock()
	if !due {
		return nil
	}
	return c.Flush(ctx)
}

// Flush writes all buffered increments. On failure the increments stay buffered.
func (c *Counters) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.units = 0
		c.mu.Unlock()
		return nil
	}
	batch := c.pending
	c.pending = map[string]int64{}
	c.units = 0
	c.mu.Unlock()

	patch := docstore.NewPatch()
	for name, delta := range batch {
		patch.Increment(append(append(docstore.Path{}, c.prefix...), name), float64(delta))
	}
	if err := c.store.Apply(ctx, c.ref, patch); err != nil {
		c.mu.Lock()
		for name, delta := range batch {
			c.pending[name] += delta
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	fn := c.onFlush
	totals := c.snapshotLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(totals)
	}
	return nil
}

// Total returns the running total for name, including unflushed increments.
func (c *Counters) Total(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[name]
}

// Totals returns a copy of every running total.
func (c *Counters) Totals() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Counters) snapshotLocked() map[string]int64 {
	out := make(map[string]int64, len(c.totals))
	for k, v := range c.totals {
		out[k] = v
	}
	return out
}
