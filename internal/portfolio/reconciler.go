package portfolio

import (
	"context"
	"fmt"
	"log"

	"github.com/indiquant/kitebot/internal/broker"
)

// ExternalStrategyTag marks positions discovered at the broker that
// this process did not open.
const ExternalStrategyTag = "external"

// externalConfidence is assigned to adopted broker positions.
const externalConfidence = 0.5

// Reconciler aligns the local book with the broker's net positions
// after order anomalies or external activity. Both equity (MIS) and
// derivative positions are reconciled; the broker's quantities win.
type Reconciler struct {
	broker    broker.Broker
	portfolio *Portfolio
	logger    *log.Logger
}

// NewReconciler builds a Reconciler.
func NewReconciler(b broker.Broker, p *Portfolio, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{broker: b, portfolio: p, logger: logger}
}

// Sync pulls broker net positions and reconciles the local book
// against them. Paper mode is a no-op: virtual positions have no
// broker counterpart and would be wiped.
func (r *Reconciler) Sync(ctx context.Context) error {
	if r.portfolio.Mode() != ModeLive {
		return nil
	}

	brokerPositions, err := r.broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("fetch broker positions: %w", err)
	}

	p := r.portfolio
	p.positionMu.Lock()
	defer p.positionMu.Unlock()

	seen := make(map[string]bool)
	for _, bp := range brokerPositions {
		if bp.Quantity == 0 {
			continue
		}
		key := bp.TradingSymbol
		if bp.Quantity < 0 {
			key = ShortKey(bp.TradingSymbol)
		}
		seen[key] = true

		if pos, ok := p.positions[key]; ok {
			if pos.Shares != bp.Quantity || pos.EntryPrice != bp.AveragePrice {
				r.logger.Printf("reconcile %s: %d @ %.2f -> %d @ %.2f",
					key, pos.Shares, pos.EntryPrice, bp.Quantity, bp.AveragePrice)
				pos.Shares = bp.Quantity
				pos.EntryPrice = bp.AveragePrice
				pos.InvestedAmount = float64(pos.AbsShares()) * bp.AveragePrice
			}
			continue
		}

		adopted := &Position{
			ID:             NewPositionID(),
			Symbol:         bp.TradingSymbol,
			Shares:         bp.Quantity,
			EntryPrice:     bp.AveragePrice,
			InvestedAmount: float64(abs(bp.Quantity)) * bp.AveragePrice,
			EntryTime:      p.now(),
			Confidence:     externalConfidence,
			Strategy:       ExternalStrategyTag,
			Product:        bp.Product,
			PeakPrice:      bp.AveragePrice,
		}
		p.positions[key] = adopted
		r.logger.Printf("reconcile: adopted external position %s (%d @ %.2f)",
			key, bp.Quantity, bp.AveragePrice)
	}

	// Drop local positions the broker no longer reports.
	for key, pos := range p.positions {
		if seen[key] {
			continue
		}
		r.logger.Printf("reconcile: removing %s (%d shares), absent at broker", key, pos.Shares)
		delete(p.positions, key)
	}
	return nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
