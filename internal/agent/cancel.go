package agent

import "sync"

// CancelRegistry records externally cancelled tool-call ids ahead of
// execution. The watchdog only covers calls already registered with it;
// ids cancelled before the loop hands them to the coordinator are
// caught here and marked failed without running.
type CancelRegistry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewCancelRegistry builds an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{ids: make(map[string]struct{})}
}

// Add flags a call id as cancelled.
func (c *CancelRegistry) Add(callID string) {
	if callID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[callID] = struct{}{}
}

// Consume reports whether the id was flagged and clears the flag.
func (c *CancelRegistry) Consume(callID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[callID]
	if ok {
		delete(c.ids, callID)
	}
	return ok
}

// Pending returns how many ids are currently flagged.
func (c *CancelRegistry) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
