// Package risk sizes entries from ATR and the risk budget, manages
// trailing stops, scores exits and tracks re-entry cooldowns.
package risk

import (
	"fmt"
	"math"
)

// SizingConfig holds the entry sizing parameters.
type SizingConfig struct {
	RiskPerTrade    float64 // fraction of cash risked per trade, 1% paper / 0.5% live
	ATRStopMult     float64 // stop distance in ATRs
	ATRTargetMult   float64 // target distance in ATRs
	MinPositionSize float64 // low-confidence tier, fraction of cash
	MidPositionSize float64
	MaxPositionSize float64
}

// DefaultSizing is the paper-profile sizing configuration.
func DefaultSizing() SizingConfig {
	return SizingConfig{
		RiskPerTrade:    0.01,
		ATRStopMult:     1.5,
		ATRTargetMult:   2.2,
		MinPositionSize: 0.10,
		MidPositionSize: 0.15,
		MaxPositionSize: 0.20,
	}
}

// SizePlan is a fully-specified entry: share count and bracket levels.
type SizePlan struct {
	Shares         int
	StopLoss       float64
	TakeProfit     float64
	StopDistance   float64
	TargetDistance float64
	RiskBudget     float64
}

// SizeEntry computes the share count for a long entry. The final size
// is the minimum of the risk-budget size, the confidence-tier size and
// plain affordability. A zero result is a rejection.
func SizeEntry(cfg SizingConfig, entryPrice, atr, confidence, cash float64) (SizePlan, error) {
	if entryPrice <= 0 || atr <= 0 || cash <= 0 {
		return SizePlan{}, fmt.Errorf("size entry: invalid inputs price=%.2f atr=%.2f cash=%.2f",
			entryPrice, atr, cash)
	}

	// Lower confidence widens the stop less aggressively, floored at 0.8.
	confAdj := math.Max(0.8, 1-math.Max(0, 0.6-confidence))
	stopDistance := atr * cfg.ATRStopMult * confAdj
	targetDistance := atr * (cfg.ATRTargetMult + math.Max(0, confidence-0.5))

	riskBudget := cash * cfg.RiskPerTrade
	riskShares := int(math.Floor(riskBudget / stopDistance))

	tier := cfg.MinPositionSize
	switch {
	case confidence >= 0.7:
		tier = cfg.MaxPositionSize
	case confidence >= 0.5:
		tier = cfg.MidPositionSize
	}
	tierShares := int(math.Floor(cash * tier / entryPrice))
	affordShares := int(math.Floor(cash / entryPrice))

	shares := minInt(riskShares, minInt(tierShares, affordShares))
	if shares <= 0 {
		return SizePlan{}, fmt.Errorf("size entry: sized to zero shares (risk %d, tier %d, afford %d)",
			riskShares, tierShares, affordShares)
	}

	return SizePlan{
		Shares:         shares,
		StopLoss:       entryPrice - stopDistance,
		TakeProfit:     entryPrice + targetDistance,
		StopDistance:   stopDistance,
		TargetDistance: targetDistance,
		RiskBudget:     riskBudget,
	}, nil
}

// SizeEntryLots rounds a share plan down to a whole number of lots.
// Rounding to zero lots rejects the entry.
func SizeEntryLots(cfg SizingConfig, entryPrice, atr, confidence, cash float64, lotSize int) (SizePlan, error) {
	if lotSize <= 0 {
		return SizePlan{}, fmt.Errorf("size entry: invalid lot size %d", lotSize)
	}
	plan, err := SizeEntry(cfg, entryPrice, atr, confidence, cash)
	if err != nil {
		return SizePlan{}, err
	}
	lots := plan.Shares / lotSize
	if lots == 0 {
		return SizePlan{}, fmt.Errorf("size entry: %d shares rounds to zero lots of %d",
			plan.Shares, lotSize)
	}
	plan.Shares = lots * lotSize
	return plan, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
