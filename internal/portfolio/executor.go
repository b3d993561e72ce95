package portfolio

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/indiquant/kitebot/internal/broker"
)

// Fill is the confirmed outcome of a live order.
type Fill struct {
	OrderID  string
	Quantity int
	Price    float64
}

// ExecutorOptions tunes the order state machine.
type ExecutorOptions struct {
	FillTimeout time.Duration // total wait for a fill, default 15s
	PollBase    time.Duration // first poll delay, default 500ms
}

func (o *ExecutorOptions) defaults() {
	if o.FillTimeout <= 0 {
		o.FillTimeout = 15 * time.Second
	}
	if o.PollBase <= 0 {
		o.PollBase = 500 * time.Millisecond
	}
}

// Executor drives live orders through margin check, placement, fill
// polling and timeout cancellation. It never mutates portfolio cash;
// callers apply the returned Fill through the portfolio operations.
type Executor struct {
	broker    broker.Broker
	portfolio *Portfolio
	logger    *log.Logger
	opts      ExecutorOptions

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewExecutor builds an Executor over a broker client.
func NewExecutor(b broker.Broker, p *Portfolio, logger *log.Logger, opts ExecutorOptions) *Executor {
	opts.defaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		broker:    b,
		portfolio: p,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		sleep: func(ctx context.Context, d time.Duration) bool {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return false
			case <-t.C:
				return true
			}
		},
	}
}

// Execute runs the full order state machine and returns the actual
// fill. A zero-quantity fill is an error: nothing was executed.
//
// Ordering is fixed: margin check, place, poll with backoff, cancel on
// timeout with one race-safe re-query. Cash is never touched here.
func (e *Executor) Execute(ctx context.Context, params broker.OrderParams) (Fill, error) {
	lock := e.portfolio.OrderLock()
	lock.Lock()
	defer lock.Unlock()

	if err := e.checkMargin(ctx, params); err != nil {
		return Fill{}, err
	}

	orderID, err := e.broker.PlaceOrder(ctx, params)
	if err != nil {
		return Fill{}, fmt.Errorf("place order %s: %w", params.TradingSymbol, err)
	}
	e.logger.Printf("order %s placed for %s %s x%d",
		orderID, params.TransactionType, params.TradingSymbol, params.Quantity)

	fill, terminal, err := e.waitForFill(ctx, orderID)
	if err != nil {
		return Fill{}, err
	}
	if terminal {
		return fill, nil
	}

	// Still pending at timeout: cancel, then re-query once. A fill
	// that lands during the cancel window must win the race.
	if cancelErr := e.broker.CancelOrder(ctx, "regular", orderID); cancelErr != nil {
		e.logger.Printf("order %s: cancel failed (%v), re-querying", orderID, cancelErr)
	}
	events, histErr := e.broker.OrderHistory(ctx, orderID)
	if histErr == nil {
		if f, done := lastFill(events, orderID); done && f.Quantity > 0 {
			e.logger.Printf("order %s filled during cancel window: %d @ %.2f",
				orderID, f.Quantity, f.Price)
			return f, nil
		}
	}
	return Fill{}, fmt.Errorf("order %s: timed out unfilled and cancelled", orderID)
}

// checkMargin rejects locally when the broker reports insufficient
// funds for the order. No order is submitted on rejection.
func (e *Executor) checkMargin(ctx context.Context, params broker.OrderParams) error {
	required, err := e.broker.OrderMargins(ctx, params)
	if err != nil {
		return fmt.Errorf("margin query %s: %w", params.TradingSymbol, err)
	}
	available, err := e.broker.Margins(ctx)
	if err != nil {
		return fmt.Errorf("margins query: %w", err)
	}
	if required.Total > available.AvailableCash {
		return fmt.Errorf("margin check %s: required %.2f exceeds available %.2f",
			params.TradingSymbol, required.Total, available.AvailableCash)
	}
	return nil
}

// waitForFill polls order history with exponential backoff until a
// terminal status or the fill timeout. terminal=false means the order
// is still pending.
func (e *Executor) waitForFill(ctx context.Context, orderID string) (Fill, bool, error) {
	deadline := e.now().Add(e.opts.FillTimeout)
	delay := e.opts.PollBase
	for {
		events, err := e.broker.OrderHistory(ctx, orderID)
		if err != nil {
			e.logger.Printf("order %s: history query failed: %v", orderID, err)
		} else if len(events) > 0 {
			last := events[len(events)-1]
			switch normalizeStatus(last.Status) {
			case broker.StatusComplete:
				return Fill{OrderID: orderID, Quantity: last.FilledQuantity, Price: last.AveragePrice}, true, nil
			case broker.StatusRejected:
				return Fill{}, true, fmt.Errorf("order %s rejected: %s", orderID, last.StatusMessage)
			case broker.StatusCancelled:
				if last.FilledQuantity > 0 {
					return Fill{OrderID: orderID, Quantity: last.FilledQuantity, Price: last.AveragePrice}, true, nil
				}
				return Fill{}, true, fmt.Errorf("order %s cancelled: %s", orderID, last.StatusMessage)
			}
		}
		if e.now().Add(delay).After(deadline) {
			return Fill{}, false, nil
		}
		if !e.sleep(ctx, delay) {
			return Fill{}, false, ctx.Err()
		}
		delay *= 2
	}
}

// lastFill extracts the terminal fill from an order's event history.
func lastFill(events []broker.OrderEvent, orderID string) (Fill, bool) {
	if len(events) == 0 {
		return Fill{}, false
	}
	last := events[len(events)-1]
	switch normalizeStatus(last.Status) {
	case broker.StatusComplete:
		return Fill{OrderID: orderID, Quantity: last.FilledQuantity, Price: last.AveragePrice}, true
	case broker.StatusRejected, broker.StatusCancelled:
		return Fill{OrderID: orderID, Quantity: last.FilledQuantity, Price: last.AveragePrice}, true
	}
	return Fill{}, false
}

func normalizeStatus(status string) string {
	s := strings.ToUpper(status)
	if s == "FILLED" {
		return broker.StatusComplete
	}
	return s
}

// PlaceProtectiveStop installs a broker-side GTT sell trigger for a
// long position and records its id on the position.
func (e *Executor) PlaceProtectiveStop(ctx context.Context, key string, pos Position, exchange string) (int, error) {
	gttID, err := e.broker.PlaceGTT(ctx, broker.GTTParams{
		Exchange:        exchange,
		TradingSymbol:   pos.Symbol,
		TriggerPrice:    pos.StopLoss,
		LimitPrice:      pos.StopLoss,
		LastPrice:       pos.EntryPrice,
		Quantity:        pos.AbsShares(),
		TransactionType: broker.TransactionSell,
	})
	if err != nil {
		return 0, fmt.Errorf("place protective stop %s: %w", pos.Symbol, err)
	}
	e.portfolio.SetGTTID(key, gttID)
	e.logger.Printf("protective stop %d placed for %s at %.2f", gttID, pos.Symbol, pos.StopLoss)
	return gttID, nil
}

// CancelProtectiveStop deletes a position's GTT. Call this only after
// the closing order has filled: cancelling earlier leaves the position
// unprotected if the close fails.
func (e *Executor) CancelProtectiveStop(ctx context.Context, gttID int) error {
	if gttID == 0 {
		return nil
	}
	if err := e.broker.DeleteGTT(ctx, gttID); err != nil {
		return fmt.Errorf("cancel protective stop %d: %w", gttID, err)
	}
	return nil
}
