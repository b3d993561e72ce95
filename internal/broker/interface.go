// Package broker provides the brokerage contract and the Kite connect
// REST client used for market data and order routing.
package broker

import (
	"context"
	"time"
)

// Broker defines the interface for interacting with the brokerage.
// All implementations must be safe for concurrent use; rate limiting is
// applied by callers at a single point, not inside implementations.
type Broker interface {
	// Instrument metadata
	Instruments(ctx context.Context, exchange string) ([]Instrument, error)

	// Market data
	HistoricalData(ctx context.Context, token uint32, from, to time.Time, interval string) ([]Bar, error)
	// GetQuotes takes "EXCHANGE:SYMBOL" keys and returns a map keyed the
	// same way. Symbols the broker does not know are absent from the map.
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)

	// Orders
	PlaceOrder(ctx context.Context, params OrderParams) (string, error)
	OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error)
	CancelOrder(ctx context.Context, variety, orderID string) error

	// Account
	Positions(ctx context.Context) ([]BrokerPosition, error)
	Margins(ctx context.Context) (Margins, error)
	OrderMargins(ctx context.Context, params OrderParams) (OrderMargin, error)

	// Protective orders (optional capability; implementations without
	// GTT support return ErrGTTUnsupported)
	PlaceGTT(ctx context.Context, params GTTParams) (int, error)
	GetGTTs(ctx context.Context) ([]GTT, error)
	DeleteGTT(ctx context.Context, gttID int) error
}
