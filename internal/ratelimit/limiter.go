// Package ratelimit enforces broker request caps and guards the
// controller loop against repeated failures.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is one sliding admission window.
type window struct {
	span  time.Duration
	limit int
	hits  []time.Time
}

// prune drops hits older than the window span.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for ; i < len(w.hits); i++ {
		if w.hits[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// admits reports whether one more hit fits right now.
func (w *window) admits() bool {
	return len(w.hits) < w.limit
}

// nextFree returns the instant at which the oldest blocking hit ages out.
func (w *window) nextFree() time.Time {
	return w.hits[0].Add(w.span)
}

// Limiter throttles broker calls through three sliding windows:
// a 100ms burst cap, a per-second cap and a per-minute cap.
type Limiter struct {
	mu      sync.Mutex
	windows []*window
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool
}

// Config holds the per-window request caps.
type Config struct {
	PerSecond int
	PerMinute int
	Burst     int // per 100ms
}

// DefaultConfig matches the Kite connect API published limits.
var DefaultConfig = Config{PerSecond: 3, PerMinute: 1000, Burst: 5}

// NewLimiter creates a Limiter with the given caps. Zero or negative
// caps fall back to DefaultConfig values.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig.Burst
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = DefaultConfig.PerSecond
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultConfig.PerMinute
	}
	return &Limiter{
		windows: []*window{
			{span: 100 * time.Millisecond, limit: cfg.Burst},
			{span: time.Second, limit: cfg.PerSecond},
			{span: time.Minute, limit: cfg.PerMinute},
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Acquire blocks cooperatively until all three windows admit a request
// or ctx expires. Returns false on timeout/cancellation.
func (l *Limiter) Acquire(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		l.mu.Lock()
		now := l.now()
		admitted := true
		var wait time.Duration
		for _, w := range l.windows {
			w.prune(now)
			if !w.admits() {
				admitted = false
				if d := w.nextFree().Sub(now); d > wait {
					wait = d
				}
			}
		}
		if admitted {
			for _, w := range l.windows {
				w.hits = append(w.hits, now)
			}
			l.mu.Unlock()
			return true
		}
		l.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		if !l.sleep(ctx, wait) {
			return false
		}
	}
}

// AcquireTimeout is Acquire with an explicit wait budget.
func (l *Limiter) AcquireTimeout(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.Acquire(ctx)
}

// InFlight returns how many hits are currently recorded in the widest
// window, for telemetry.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[len(l.windows)-1]
	w.prune(l.now())
	return len(w.hits)
}
