package api

import (
	"math"
	"sync"
	"time"
)

// Cooldown enforces a minimum interval between mailbox fetches. All
// callers share one window.
type Cooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewCooldown creates a cooldown with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		now:    time.Now,
	}
}

// SetNow overrides the clock, used in tests.
func (c *Cooldown) SetNow(now func() time.Time) { c.now = now }

// Allow reports whether a fetch may proceed. When the window is still
// open it returns false and the whole seconds remaining, at least 1.
func (c *Cooldown) Allow() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.last.IsZero() {
		elapsed := now.Sub(c.last)
		if elapsed < c.window {
			remaining := int(math.Ceil((c.window - elapsed).Seconds()))
			if remaining < 1 {
				remaining = 1
			}
			return false, remaining
		}
	}

	c.last = now
	return true, 0
}
