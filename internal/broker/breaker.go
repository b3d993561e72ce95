package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
// so that a flapping broker API cannot stall the trading loop.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	fn func() (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(b Broker, logger *log.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}, logger)
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings, logger *log.Logger) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
	}
	if logger != nil {
		gbSettings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		}
	}

	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the current breaker state for telemetry.
func (c *CircuitBreakerBroker) State() string {
	return c.breaker.State().String()
}

// Instruments wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Instruments(ctx context.Context, exchange string) ([]Instrument, error) {
	return execBreaker(c.breaker, func() ([]Instrument, error) { return c.broker.Instruments(ctx, exchange) })
}

// HistoricalData wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) HistoricalData(ctx context.Context, token uint32, from, to time.Time, interval string) ([]Bar, error) {
	return execBreaker(c.breaker, func() ([]Bar, error) {
		return c.broker.HistoricalData(ctx, token, from, to, interval)
	})
}

// GetQuotes wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	return execBreaker(c.breaker, func() (map[string]Quote, error) { return c.broker.GetQuotes(ctx, symbols) })
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, params OrderParams) (string, error) {
	return execBreaker(c.breaker, func() (string, error) { return c.broker.PlaceOrder(ctx, params) })
}

// OrderHistory wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error) {
	return execBreaker(c.breaker, func() ([]OrderEvent, error) { return c.broker.OrderHistory(ctx, orderID) })
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, variety, orderID string) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.broker.CancelOrder(ctx, variety, orderID)
	})
	return err
}

// Positions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Positions(ctx context.Context) ([]BrokerPosition, error) {
	return execBreaker(c.breaker, func() ([]BrokerPosition, error) { return c.broker.Positions(ctx) })
}

// Margins wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Margins(ctx context.Context) (Margins, error) {
	return execBreaker(c.breaker, func() (Margins, error) { return c.broker.Margins(ctx) })
}

// OrderMargins wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) OrderMargins(ctx context.Context, params OrderParams) (OrderMargin, error) {
	return execBreaker(c.breaker, func() (OrderMargin, error) { return c.broker.OrderMargins(ctx, params) })
}

// PlaceGTT wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceGTT(ctx context.Context, params GTTParams) (int, error) {
	return execBreaker(c.breaker, func() (int, error) { return c.broker.PlaceGTT(ctx, params) })
}

// GetGTTs wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetGTTs(ctx context.Context) ([]GTT, error) {
	return execBreaker(c.breaker, func() ([]GTT, error) { return c.broker.GetGTTs(ctx) })
}

// DeleteGTT wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) DeleteGTT(ctx context.Context, gttID int) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.broker.DeleteGTT(ctx, gttID)
	})
	return err
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)
