package assembly

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// runControl carries the pause and cancel flags of one run.
type runControl struct {
	mu        sync.Mutex
	paused    bool
	done      bool
	resumeCh  chan struct{}
	cancelled chan struct{}

	// reserved marks a control registered by Reserve that no Run has
	// claimed yet. Guarded by Orchestrator.mu.
	reserved bool
}

func newRunControl() *runControl {
	return &runControl{cancelled: make(chan struct{})}
}

func (c *runControl) cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	c.done = true
	close(c.cancelled)
	return true
}

func (c *runControl) pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done || c.paused {
		return false
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
	return true
}

func (c *runControl) resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return false
	}
	c.paused = false
	close(c.resumeCh)
	return true
}

func (c *runControl) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *runControl) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// state returns the pause flag and its resume channel, or an error once the
// run is cancelled.
func (c *runControl) state(ctx context.Context) (bool, <-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false, nil, ErrCancelled
	}
	return c.paused, c.resumeCh, nil
}

// sleep waits for d unless the run is cancelled first.
func (c *runControl) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		_, _, err := c.state(ctx)
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		_, _, err := c.state(ctx)
		return err
	case <-c.cancelled:
		return ErrCancelled
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}
