package ratelimit

import (
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// GuardSettings configures the iteration failure guard.
type GuardSettings struct {
	// ConsecutiveFailures before the guard trips open.
	ConsecutiveFailures uint32
	// ResetTimeout is how long the guard stays open before allowing a
	// single half-open trial.
	ResetTimeout time.Duration
}

// DefaultGuardSettings trips after 5 consecutive failures and cools
// down for 60 seconds.
var DefaultGuardSettings = GuardSettings{
	ConsecutiveFailures: 5,
	ResetTimeout:        60 * time.Second,
}

// Guard is the controller-level circuit breaker: repeated iteration
// failures open it, one successful half-open trial closes it again.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
}

// NewGuard creates a Guard with the given settings; zero values fall
// back to DefaultGuardSettings.
func NewGuard(settings GuardSettings, logger *log.Logger) *Guard {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultGuardSettings.ConsecutiveFailures
	}
	if settings.ResetTimeout == 0 {
		settings.ResetTimeout = DefaultGuardSettings.ResetTimeout
	}

	gb := gobreaker.Settings{
		Name:        "IterationGuard",
		MaxRequests: 1, // single trial while half-open
		Timeout:     settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
	}
	if logger != nil {
		gb.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		}
	}

	return &Guard{breaker: gobreaker.NewCircuitBreaker(gb)}
}

// CanProceed reports whether the next iteration is allowed to run.
func (g *Guard) CanProceed() bool {
	return g.breaker.State() != gobreaker.StateOpen
}

// Record feeds the outcome of one iteration into the breaker.
func (g *Guard) Record(err error) {
	// Execute is used purely as a counter; the work already happened.
	_, _ = g.breaker.Execute(func() (interface{}, error) {
		return nil, err
	})
}

// State returns the current breaker state for telemetry.
func (g *Guard) State() string {
	return g.breaker.State().String()
}
