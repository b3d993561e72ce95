// Package strategy holds the technical strategy roster and the signal
// aggregator. Strategies are pure functions over a bar window; they do
// no I/O and keep no state beyond their parameters.
package strategy

import (
	"math"

	"github.com/indiquant/kitebot/internal/broker"
)

// Signal directions.
const (
	DirectionSell = -1
	DirectionHold = 0
	DirectionBuy  = 1
)

// ReasonInsufficientData is returned when the bar window is too short
// for the strategy's indicators.
const ReasonInsufficientData = "insufficient_data"

// Signal is one strategy's verdict on a symbol.
type Signal struct {
	Direction int     `json:"direction"` // -1 sell, 0 hold, +1 buy
	Strength  float64 `json:"strength"`  // [0,1]
	Reason    string  `json:"reason"`
}

func hold(reason string) Signal {
	return Signal{Direction: DirectionHold, Strength: 0, Reason: reason}
}

// Strategy evaluates a bar window into a signal. Implementations must
// be deterministic and NaN-safe.
type Strategy interface {
	Name() string
	// MinBars is the smallest window Evaluate can work with. Below it
	// the strategy returns insufficient_data.
	MinBars() int
	Evaluate(bars []broker.Bar, symbol string) Signal
}

// extraBars is the padding added on top of the largest indicator
// window before a strategy considers its input sufficient.
const extraBars = 5

func closes(bars []broker.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func volumes(bars []broker.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = float64(b.Volume)
	}
	return out
}

// last returns the final element, NaN when the series is empty.
func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// prior returns the element n positions before the end, NaN when out
// of range.
func prior(series []float64, n int) float64 {
	if len(series) <= n {
		return math.NaN()
	}
	return series[len(series)-1-n]
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Roster returns the full strategy set with default parameters.
func Roster() []Strategy {
	return []Strategy{
		NewFastMACrossover(),
		NewRSIReversal(),
		NewBollingerReversion(),
		NewVolumeBreakout(),
		NewEnhancedMomentum(),
	}
}
