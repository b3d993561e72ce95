package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBroker is a scriptable Broker for tests and paper trading. Each
// method delegates to the corresponding Func field when set and falls
// back to an empty success otherwise. Calls are counted per method.
type MockBroker struct {
	mu    sync.Mutex
	calls map[string]int

	InstrumentsFunc    func(ctx context.Context, exchange string) ([]Instrument, error)
	HistoricalDataFunc func(ctx context.Context, token uint32, from, to time.Time, interval string) ([]Bar, error)
	GetQuotesFunc      func(ctx context.Context, symbols []string) (map[string]Quote, error)
	PlaceOrderFunc     func(ctx context.Context, params OrderParams) (string, error)
	OrderHistoryFunc   func(ctx context.Context, orderID string) ([]OrderEvent, error)
	CancelOrderFunc    func(ctx context.Context, variety, orderID string) error
	PositionsFunc      func(ctx context.Context) ([]BrokerPosition, error)
	MarginsFunc        func(ctx context.Context) (Margins, error)
	OrderMarginsFunc   func(ctx context.Context, params OrderParams) (OrderMargin, error)
	PlaceGTTFunc       func(ctx context.Context, params GTTParams) (int, error)
	GetGTTsFunc        func(ctx context.Context) ([]GTT, error)
	DeleteGTTFunc      func(ctx context.Context, gttID int) error

	// PlacedOrders records every order submitted through PlaceOrder.
	PlacedOrders []OrderParams
}

// NewMockBroker creates an empty mock.
func NewMockBroker() *MockBroker {
	return &MockBroker{calls: make(map[string]int)}
}

func (m *MockBroker) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how many times a method was invoked.
func (m *MockBroker) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Instruments implements Broker.
func (m *MockBroker) Instruments(ctx context.Context, exchange string) ([]Instrument, error) {
	m.record("Instruments")
	if m.InstrumentsFunc != nil {
		return m.InstrumentsFunc(ctx, exchange)
	}
	return nil, nil
}

// HistoricalData implements Broker.
func (m *MockBroker) HistoricalData(ctx context.Context, token uint32, from, to time.Time, interval string) ([]Bar, error) {
	m.record("HistoricalData")
	if m.HistoricalDataFunc != nil {
		return m.HistoricalDataFunc(ctx, token, from, to, interval)
	}
	return nil, nil
}

// GetQuotes implements Broker.
func (m *MockBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	m.record("GetQuotes")
	if m.GetQuotesFunc != nil {
		return m.GetQuotesFunc(ctx, symbols)
	}
	return map[string]Quote{}, nil
}

// PlaceOrder implements Broker.
func (m *MockBroker) PlaceOrder(ctx context.Context, params OrderParams) (string, error) {
	m.record("PlaceOrder")
	m.mu.Lock()
	m.PlacedOrders = append(m.PlacedOrders, params)
	n := len(m.PlacedOrders)
	m.mu.Unlock()
	if m.PlaceOrderFunc != nil {
		return m.PlaceOrderFunc(ctx, params)
	}
	return fmt.Sprintf("mock-order-%d", n), nil
}

// OrderHistory implements Broker.
func (m *MockBroker) OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error) {
	m.record("OrderHistory")
	if m.OrderHistoryFunc != nil {
		return m.OrderHistoryFunc(ctx, orderID)
	}
	return nil, nil
}

// CancelOrder implements Broker.
func (m *MockBroker) CancelOrder(ctx context.Context, variety, orderID string) error {
	m.record("CancelOrder")
	if m.CancelOrderFunc != nil {
		return m.CancelOrderFunc(ctx, variety, orderID)
	}
	return nil
}

// Positions implements Broker.
func (m *MockBroker) Positions(ctx context.Context) ([]BrokerPosition, error) {
	m.record("Positions")
	if m.PositionsFunc != nil {
		return m.PositionsFunc(ctx)
	}
	return nil, nil
}

// Margins implements Broker.
func (m *MockBroker) Margins(ctx context.Context) (Margins, error) {
	m.record("Margins")
	if m.MarginsFunc != nil {
		return m.MarginsFunc(ctx)
	}
	return Margins{AvailableCash: 1_000_000_000}, nil
}

// OrderMargins implements Broker.
func (m *MockBroker) OrderMargins(ctx context.Context, params OrderParams) (OrderMargin, error) {
	m.record("OrderMargins")
	if m.OrderMarginsFunc != nil {
		return m.OrderMarginsFunc(ctx, params)
	}
	return OrderMargin{Total: 0}, nil
}

// PlaceGTT implements Broker.
func (m *MockBroker) PlaceGTT(ctx context.Context, params GTTParams) (int, error) {
	m.record("PlaceGTT")
	if m.PlaceGTTFunc != nil {
		return m.PlaceGTTFunc(ctx, params)
	}
	return m.Calls("PlaceGTT"), nil
}

// GetGTTs implements Broker.
func (m *MockBroker) GetGTTs(ctx context.Context) ([]GTT, error) {
	m.record("GetGTTs")
	if m.GetGTTsFunc != nil {
		return m.GetGTTsFunc(ctx)
	}
	return nil, nil
}

// DeleteGTT implements Broker.
func (m *MockBroker) DeleteGTT(ctx context.Context, gttID int) error {
	m.record("DeleteGTT")
	if m.DeleteGTTFunc != nil {
		return m.DeleteGTTFunc(ctx, gttID)
	}
	return nil
}

// Ensure MockBroker implements Broker at compile time.
var _ Broker = (*MockBroker)(nil)
