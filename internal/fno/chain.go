package fno

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/indiquant/kitebot/internal/broker"
)

// OptionContract is one strike of an option chain.
type OptionContract struct {
	Symbol            string  `json:"symbol"`
	Strike            float64 `json:"strike"`
	Right             Right   `json:"right"`
	LastPrice         float64 `json:"last_price"`
	OpenInterest      int64   `json:"open_interest"`
	Volume            int64   `json:"volume"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	Greeks            Greeks  `json:"greeks"`
}

// Chain is the option chain of one underlying for one expiry.
type Chain struct {
	Underlying string                     `json:"underlying"`
	Expiry     time.Time                  `json:"expiry"`
	SpotPrice  float64                    `json:"spot_price"`
	Calls      map[float64]OptionContract `json:"calls"`
	Puts       map[float64]OptionContract `json:"puts"`
	LotSize    int                        `json:"lot_size"`
}

// MaxChainContracts is the default cap on how many contracts a chain
// carries; strikes furthest from spot are dropped first to keep fetch
// latency bounded.
const MaxChainContracts = 150

// SelectExpiry picks the chain expiry from the available contract
// expiries: the nearest strictly-future expiry, falling back to a
// same-day expiry and finally the most recent past one.
func SelectExpiry(expiries []time.Time, now time.Time) (time.Time, error) {
	if len(expiries) == 0 {
		return time.Time{}, fmt.Errorf("no expiries available")
	}

	sorted := make([]time.Time, len(expiries))
	copy(sorted, expiries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Strictly future first.
	for _, e := range sorted {
		if e.After(today) && !sameDay(e, today) {
			return e, nil
		}
	}
	// Same-day next.
	for _, e := range sorted {
		if sameDay(e, today) {
			return e, nil
		}
	}
	// Most recent past.
	return sorted[len(sorted)-1], nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// BuildChain assembles a Chain from instrument rows and their quotes.
// Instruments not matching the chosen expiry are skipped; the result is
// capped at maxContracts strikes nearest to spot (MaxChainContracts
// when maxContracts is zero).
func BuildChain(underlying string, spot float64, expiry time.Time,
	instruments []broker.Instrument, quotes map[string]broker.Quote,
	riskFreeRate float64, maxContracts int) *Chain {

	if maxContracts <= 0 {
		maxContracts = MaxChainContracts
	}
	lot, _ := LotSize(underlying)
	chain := &Chain{
		Underlying: underlying,
		Expiry:     expiry,
		SpotPrice:  spot,
		Calls:      make(map[float64]OptionContract),
		Puts:       make(map[float64]OptionContract),
		LotSize:    lot,
	}

	type candidate struct {
		contract OptionContract
		distance float64
	}
	var candidates []candidate

	yearsToExpiry := time.Until(expiry).Hours() / (24 * 365)
	if yearsToExpiry <= 0 {
		yearsToExpiry = 1.0 / 365
	}

	for _, inst := range instruments {
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		if !sameDay(inst.Expiry, expiry) {
			continue
		}
		key := Exchange(underlying) + ":" + inst.TradingSymbol
		q, ok := quotes[key]
		if !ok || q.LastPrice <= 0 {
			continue
		}

		right := Right(inst.InstrumentType)
		iv := q.IV
		if iv == 0 {
			iv = ImpliedVolatility(spot, inst.Strike, yearsToExpiry, riskFreeRate, q.LastPrice, right)
		}
		oc := OptionContract{
			Symbol:            inst.TradingSymbol,
			Strike:            inst.Strike,
			Right:             right,
			LastPrice:         q.LastPrice,
			OpenInterest:      q.OI,
			Volume:            q.Volume,
			ImpliedVolatility: iv,
			Greeks:            ComputeGreeks(spot, inst.Strike, yearsToExpiry, riskFreeRate, iv, right),
		}
		candidates = append(candidates, candidate{oc, math.Abs(inst.Strike - spot)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if len(candidates) > maxContracts {
		candidates = candidates[:maxContracts]
	}

	for _, c := range candidates {
		if c.contract.Right == RightCall {
			chain.Calls[c.contract.Strike] = c.contract
		} else {
			chain.Puts[c.contract.Strike] = c.contract
		}
	}
	return chain
}

// ATMStrike returns the strike closest to spot among those present in
// both sides of the chain.
func (c *Chain) ATMStrike() (float64, error) {
	best := math.NaN()
	bestDist := math.Inf(1)
	for strike := range c.Calls {
		if _, ok := c.Puts[strike]; !ok {
			continue
		}
		if d := math.Abs(strike - c.SpotPrice); d < bestDist {
			best, bestDist = strike, d
		}
	}
	if math.IsNaN(best) {
		return 0, fmt.Errorf("chain for %s has no strike present on both sides", c.Underlying)
	}
	return best, nil
}

// Strikes returns the sorted strikes available on the given side.
func (c *Chain) Strikes(right Right) []float64 {
	var src map[float64]OptionContract
	if right == RightCall {
		src = c.Calls
	} else {
		src = c.Puts
	}
	out := make([]float64, 0, len(src))
	for s := range src {
		out = append(out, s)
	}
	sort.Float64s(out)
	return out
}

// nearestStrike finds the available strike closest to target on a side.
func (c *Chain) nearestStrike(right Right, target float64) (float64, bool) {
	strikes := c.Strikes(right)
	if len(strikes) == 0 {
		return 0, false
	}
	best, bestDist := strikes[0], math.Abs(strikes[0]-target)
	for _, s := range strikes[1:] {
		if d := math.Abs(s - target); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, true
}

// LiquidityScore summarises chain tradability in [0,1] from aggregate
// open interest and volume near the money.
func (c *Chain) LiquidityScore() float64 {
	atm, err := c.ATMStrike()
	if err != nil {
		return 0
	}
	var oi, vol int64
	for _, side := range []map[float64]OptionContract{c.Calls, c.Puts} {
		for strike, oc := range side {
			if math.Abs(strike-atm) <= c.SpotPrice*0.02 {
				oi += oc.OpenInterest
				vol += oc.Volume
			}
		}
	}
	score := math.Log10(float64(oi+1))/8 + math.Log10(float64(vol+1))/16
	return math.Min(1, score)
}
