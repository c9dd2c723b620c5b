package runctx

import "sync"

// Slot names shared between the orchestrator and the reasoning tools.
const (
	SlotTickets  = "tickets"
	SlotLogs     = "logs"
	SlotGraph    = "dag"
	SlotCheckout = "checkout"
)

// RunContext is the per-run slot map shared by concurrent enrichment tasks.
// Writes are last-writer-wins per slot; a reader after the orchestrator's
// fan-out join observes a fully populated snapshot.
type RunContext struct {
	mu    sync.RWMutex
	slots map[string]interface{}
}

// Set stores a value under the named slot.
func (r *RunContext) Set(slot string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot] = value
}

// Get returns the slot value and whether it was present.
func (r *RunContext) Get(slot string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.slots[slot]
	return v, ok
}

// Snapshot copies the current slot map.
func (r *RunContext) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]interface{}, len(r.slots))
	for k, v := range r.slots {
		out[k] = v
	}
	return out
}

// Cache owns the live RunContexts, keyed by run identifier. A context is
// created at run start and dropped when the run reaches a terminal state;
// nothing is persisted beyond the run.
type Cache struct {
	mu   sync.Mutex
	runs map[string]*RunContext
}

// NewCache constructs an empty run-context cache.
func NewCache() *Cache {
	return &Cache{runs: make(map[string]*RunContext)}
}

// Open returns the RunContext for runID, creating it when absent.
func (c *Cache) Open(runID string) *RunContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.runs[runID]
	if !ok {
		rc = &RunContext{slots: make(map[string]interface{})}
		c.runs[runID] = rc
	}
	return rc
}

// Lookup returns the RunContext for runID if it is live.
func (c *Cache) Lookup(runID string) (*RunContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.runs[runID]
	return rc, ok
}

// Drop discards the RunContext for a run that reached a terminal state.
func (c *Cache) Drop(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runID)
}
