package risk

import (
	"sync"
	"time"
)

// CooldownTracker blocks re-entry on a symbol for a window after any
// close, longer after a stop-loss exit. Exits are never blocked.
type CooldownTracker struct {
	mu    sync.Mutex
	until map[string]time.Time

	base     time.Duration
	stopLoss time.Duration
}

// NewCooldownTracker uses the given windows; the stop-loss window is
// expected to be at least twice the base.
func NewCooldownTracker(base, stopLoss time.Duration) *CooldownTracker {
	return &CooldownTracker{
		until:    make(map[string]time.Time),
		base:     base,
		stopLoss: stopLoss,
	}
}

// RecordExit starts the cooldown for a symbol at the exit time.
func (c *CooldownTracker) RecordExit(symbol string, stopHit bool, at time.Time) {
	window := c.base
	if stopHit {
		window = c.stopLoss
	}
	c.mu.Lock()
	c.until[symbol] = at.Add(window)
	c.mu.Unlock()
}

// CanEnter reports whether a new entry on symbol is allowed at the
// given instant. The boundary is strict: entry opens exactly at
// exit time plus the window, not before.
func (c *CooldownTracker) CanEnter(symbol string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, found := c.until[symbol]
	if !found {
		return true
	}
	if at.Before(until) {
		return false
	}
	delete(c.until, symbol)
	return true
}

// Snapshot exports the active cooldowns for persistence.
func (c *CooldownTracker) Snapshot() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.until))
	for k, v := range c.until {
		out[k] = v
	}
	return out
}

// Restore loads persisted cooldowns, dropping any already expired.
func (c *CooldownTracker) Restore(snapshot map[string]time.Time, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until = make(map[string]time.Time, len(snapshot))
	for k, v := range snapshot {
		if now.Before(v) {
			c.until[k] = v
		}
	}
}

// Active returns how many cooldowns are currently tracked.
func (c *CooldownTracker) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}
