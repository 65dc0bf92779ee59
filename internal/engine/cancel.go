package engine

import (
	"context"
	"sync"

	"github.com/mohaanymo/lmsdl/internal/events"
)

// ErrNotRunning is returned when cancelling a session that has no running download.
var ErrNotRunning = events.ErrNotRunning

// Cancellations maps session identifiers to the cancel function shared by
// both of a session's streams.
type Cancellations struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancellations creates an empty registry.
func NewCancellations() *Cancellations {
	return &Cancellations{cancels: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context for sessionID. The returned release
// function must be called when the session's download returns.
func (c *Cancellations) Register(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancels[sessionID] = cancel
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		delete(c.cancels, sessionID)
		c.mu.Unlock()
		cancel()
	}
}

// Cancel signals both streams of sessionID to stop.
func (c *Cancellations) Cancel(sessionID string) error {
	c.mu.Lock()
	cancel, ok := c.cancels[sessionID]
	c.mu.Unlock()

	if !ok {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// Running reports the number of registered sessions.
func (c *Cancellations) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cancels)
}
