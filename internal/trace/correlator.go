package trace

import (
	"context"
	"sync"
)

// Correlator manages the single active turn trace of one conversation
// session. Every stage record of a turn nests under the same trace, and all
// traces of the session carry the same stable session identifier so they are
// queryable together.
//
// Invariant: at most one trace is current at any instant. Starting a new
// turn discards the previous reference; the backend finalizes the abandoned
// trace server-side.
type Correlator struct {
	client    *Client
	traceName string
	sessionID string

	mu      sync.Mutex
	current *Trace
}

func NewCorrelator(client *Client, traceName, sessionID string) *Correlator {
	return &Correlator{client: client, traceName: traceName, sessionID: sessionID}
}

// SessionID returns the stable identifier shared by every turn trace.
func (c *Correlator) SessionID() string { return c.sessionID }

// Current returns the active turn trace, lazily opening one if none is
// active. Repeated calls within a turn return the same trace.
func (c *Correlator) Current() *Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		c.current = c.client.Trace(c.traceName, c.sessionID)
	}
	return c.current
}

// StartNewTurn retires the current trace and opens a fresh one for the next
// turn, returning the new handle.
func (c *Correlator) StartNewTurn() *Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.client.Trace(c.traceName, c.sessionID)
	return c.current
}

// FlushAll drops any open trace reference and forces delivery of buffered
// trace data. Called exactly once, at session termination.
func (c *Correlator) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	return c.client.Flush(ctx)
}
