package portfolio

import (
	"fmt"

	"github.com/indiquant/kitebot/internal/fno"
)

// MaxStrategyShare caps one strategy's share of open positions.
const MaxStrategyShare = 0.6

// CheckCorrelation rejects an F&O open whose underlying tracks an
// already-held underlying at ~95% (NIFTY-SENSEX, BANKNIFTY-BANKEX).
// A second position in the same medium-correlation family is allowed
// with a warning.
func (p *Portfolio) CheckCorrelation(symbol string) error {
	underlying, ok := fno.UnderlyingOf(symbol)
	if !ok {
		return nil // equities are not correlation-guarded
	}
	pair := fno.HighCorrelationPairs[underlying]
	family := fno.IndexFamily(underlying)
	familyCount := 0

	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	for key := range p.positions {
		held, heldOK := fno.UnderlyingOf(SymbolOfKey(key))
		if !heldOK {
			continue
		}
		if held == pair {
			return fmt.Errorf(
				"correlation guard: %s blocked, %s position already open (95%% correlated)",
				underlying, pair)
		}
		if held != underlying && fno.IndexFamily(held) == family {
			familyCount++
		}
	}
	if familyCount >= 1 {
		p.logger.Printf("correlation warning: %s joins %d open %s-family positions",
			underlying, familyCount, family)
	}
	return nil
}

// CheckConcentration rejects an open that would push one strategy past
// its share cap of open positions.
func (p *Portfolio) CheckConcentration(strategy string) error {
	if strategy == "" {
		return nil
	}
	p.positionMu.Lock()
	defer p.positionMu.Unlock()

	count := 0
	for _, pos := range p.positions {
		if pos.Strategy == strategy {
			count++
		}
	}
	after := len(p.positions) + 1
	if after < 2 {
		return nil // a first position can never be over-concentrated
	}
	if share := float64(count+1) / float64(after); share > MaxStrategyShare {
		return fmt.Errorf(
			"concentration guard: strategy %q would hold %.0f%% of %d positions (cap %.0f%%)",
			strategy, share*100, after, MaxStrategyShare*100)
	}
	return nil
}
