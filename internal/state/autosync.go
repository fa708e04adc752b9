package state

import (
	"context"
	"time"
)

// syncActive reports whether a background reconcile would do anything.
func (c *Container) syncActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirrorTargetLocked() != ""
}

// StartAutoSync runs a background goroutine that reconciles with the remote
// every interval while cloud sync is active. It stops when ctx is done and
// the returned channel is closed once it has exited. A non-positive
// interval starts nothing.
func (c *Container) StartAutoSync(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 || c.mirror == nil {
		close(done)
		return done
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		c.logger.Info("auto sync started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				if !c.syncActive() {
					continue
				}
				// Failures are logged by Reconcile; the next tick retries.
				_ = c.Reconcile(ctx)
			case <-ctx.Done():
				c.logger.Info("auto sync stopped", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
