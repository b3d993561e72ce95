package fno

import (
	"fmt"
	"time"
)

// StrategyName identifies a multi-leg option strategy.
type StrategyName string

// Supported multi-leg strategies.
const (
	StrategyStraddle      StrategyName = "straddle"
	StrategyIronCondor    StrategyName = "iron_condor"
	StrategyStrangle      StrategyName = "strangle"
	StrategyCallButterfly StrategyName = "call_butterfly"
	StrategyPutButterfly  StrategyName = "put_butterfly"
)

// IVRegime buckets the implied-volatility environment.
type IVRegime string

// IV regimes.
const (
	IVLow    IVRegime = "low"
	IVNormal IVRegime = "normal"
	IVHigh   IVRegime = "high"
)

// MarketState carries the features the selector decides on.
type MarketState struct {
	Regime           string   // bullish, bearish, sideways
	RegimeConfidence float64  // [0,1]
	IVRegime         IVRegime // low, normal, high
	TrendStrength    float64  // [0,1]
	LiquidityScore   float64  // [0,1]
}

// Selection is a chosen strategy with its rationale.
type Selection struct {
	Strategy  StrategyName
	Rationale string
}

// SelectStrategy maps market-state features to a strategy. Directional
// regimes force directional butterflies; sideways regimes favor the
// iron condor when IV is rich and a straddle when IV is cheap.
func SelectStrategy(state MarketState) Selection {
	switch state.Regime {
	case "bullish":
		if state.TrendStrength >= 0.5 {
			return Selection{StrategyCallButterfly,
				fmt.Sprintf("bullish regime with trend strength %.2f favors a call butterfly", state.TrendStrength)}
		}
		return Selection{StrategyCallButterfly,
			"bullish regime with modest trend, call butterfly caps risk on the upside bet"}
	case "bearish":
		return Selection{StrategyPutButterfly,
			fmt.Sprintf("bearish regime (confidence %.2f) favors a put butterfly", state.RegimeConfidence)}
	}

	// Sideways.
	switch state.IVRegime {
	case IVHigh:
		if state.LiquidityScore >= 0.5 {
			return Selection{StrategyIronCondor,
				"sideways regime with rich IV and liquid wings favors an iron condor"}
		}
		return Selection{StrategyStrangle,
			"sideways regime with rich IV but thin wings, short strangle without protection"}
	case IVLow:
		return Selection{StrategyStraddle,
			"sideways regime with cheap IV favors a long straddle ahead of expansion"}
	default:
		return Selection{StrategyIronCondor,
			"sideways regime with normal IV defaults to a defined-risk iron condor"}
	}
}

// Leg is one executable leg of a multi-leg strategy.
type Leg struct {
	Symbol   string
	Strike   float64
	Right    Right
	Side     string // BUY or SELL
	Quantity int    // shares, always a multiple of lot size
	Price    float64
}

// wingOffset is the OTM distance for strangle/condor wings, as a
// fraction of spot.
const wingOffset = 0.015

// BuildLegs expands a strategy selection into lot-sized legs against
// the chain. lots scales every leg. Returns an error when the chain is
// missing a required strike.
func BuildLegs(chain *Chain, strategy StrategyName, lots int) ([]Leg, error) {
	if lots < 1 {
		return nil, fmt.Errorf("lots must be >= 1, got %d", lots)
	}
	if chain.LotSize <= 0 {
		return nil, fmt.Errorf("chain for %s has no lot size", chain.Underlying)
	}
	atm, err := chain.ATMStrike()
	if err != nil {
		return nil, err
	}
	qty := lots * chain.LotSize
	spot := chain.SpotPrice

	leg := func(right Right, strike float64, side string) (Leg, error) {
		actual, ok := chain.nearestStrike(right, strike)
		if !ok {
			return Leg{}, fmt.Errorf("chain for %s has no %s strikes", chain.Underlying, right)
		}
		var oc OptionContract
		if right == RightCall {
			oc = chain.Calls[actual]
		} else {
			oc = chain.Puts[actual]
		}
		return Leg{
			Symbol:   oc.Symbol,
			Strike:   actual,
			Right:    right,
			Side:     side,
			Quantity: qty,
			Price:    oc.LastPrice,
		}, nil
	}

	var specs []struct {
		right  Right
		strike float64
		side   string
		mult   int
	}
	switch strategy {
	case StrategyStraddle:
		specs = []struct {
			right  Right
			strike float64
			side   string
			mult   int
		}{
			{RightCall, atm, "BUY", 1},
			{RightPut, atm, "BUY", 1},
		}
	case StrategyStrangle:
		specs = []struct {
			right  Right
			strike float64
			side   string
			mult   int
		}{
			{RightCall, spot * (1 + wingOffset), "SELL", 1},
			{RightPut, spot * (1 - wingOffset), "SELL", 1},
		}
	case StrategyIronCondor:
		specs = []struct {
			right  Right
			strike float64
			side   string
			mult   int
		}{
			{RightCall, spot * (1 + wingOffset), "SELL", 1},
			{RightPut, spot * (1 - wingOffset), "SELL", 1},
			{RightCall, spot * (1 + 2*wingOffset), "BUY", 1},
			{RightPut, spot * (1 - 2*wingOffset), "BUY", 1},
		}
	case StrategyCallButterfly:
		specs = []struct {
			right  Right
			strike float64
			side   string
			mult   int
		}{
			{RightCall, spot * (1 - wingOffset), "BUY", 1},
			{RightCall, atm, "SELL", 2},
			{RightCall, spot * (1 + wingOffset), "BUY", 1},
		}
	case StrategyPutButterfly:
		specs = []struct {
			right  Right
			strike float64
			side   string
			mult   int
		}{
			{RightPut, spot * (1 + wingOffset), "BUY", 1},
			{RightPut, atm, "SELL", 2},
			{RightPut, spot * (1 - wingOffset), "BUY", 1},
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	legs := make([]Leg, 0, len(specs))
	for _, s := range specs {
		l, err := leg(s.right, s.strike, s.side)
		if err != nil {
			return nil, err
		}
		l.Quantity *= s.mult
		legs = append(legs, l)
	}

	// Butterfly bodies must not collapse onto their wings.
	for i := 1; i < len(legs); i++ {
		for j := 0; j < i; j++ {
			if legs[i].Right == legs[j].Right && legs[i].Strike == legs[j].Strike && legs[i].Side != legs[j].Side {
				return nil, fmt.Errorf("chain for %s too sparse: legs collapse at strike %.0f",
					chain.Underlying, legs[i].Strike)
			}
		}
	}
	return legs, nil
}

// ClassifyIV buckets an at-the-money implied volatility against a
// rolling reference level.
func ClassifyIV(atmIV, referenceIV float64) IVRegime {
	if referenceIV <= 0 {
		return IVNormal
	}
	ratio := atmIV / referenceIV
	switch {
	case ratio >= 1.2:
		return IVHigh
	case ratio <= 0.8:
		return IVLow
	default:
		return IVNormal
	}
}

// NextExpiry returns the next weekly expiry date for an underlying at
// or after the given day.
func NextExpiry(underlying string, from time.Time) time.Time {
	wd := ExpiryWeekday(underlying)
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
