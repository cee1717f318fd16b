package recognition

import (
	"sync"
	"time"
)

// Cooldown remembers the last identity a session attempted to mark and suppresses
// repeated attempts for it within the window. It is safe for concurrent use so it
// can be reset while the session runs.
type Cooldown struct {
	mu       sync.Mutex
	window   time.Duration
	lastID   int64
	lastTime time.Time
	has      bool
}

// NewCooldown creates a cooldown with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window}
}

// Window returns the configured cooldown duration.
func (c *Cooldown) Window() time.Duration {
	return c.window
}

// ShouldMark reports whether identityID may trigger a ledger write at now:
// it differs from the last identity or the window has passed.
func (c *Cooldown) ShouldMark(identityID int64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.has || c.lastID != identityID || now.Sub(c.lastTime) > c.window
}

// Record stores identityID as the last marked identity.
func (c *Cooldown) Record(identityID int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastID, c.lastTime, c.has = identityID, now, true
}

// ObserveUnknown clears the last identity once the window has passed, so a
// returning face is not blocked by stale state.
func (c *Cooldown) ObserveUnknown(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.has && now.Sub(c.lastTime) > c.window {
		c.lastID, c.lastTime, c.has = 0, time.Time{}, false
	}
}

// Reset forgets the last identity.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastID, c.lastTime, c.has = 0, time.Time{}, false
}

// Last returns the remembered identity, ok is false when there is none.
func (c *Cooldown) Last() (identityID int64, at time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID, c.lastTime, c.has
}
