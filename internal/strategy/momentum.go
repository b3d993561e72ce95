package strategy

import (
	"fmt"
	"strings"

	"github.com/markcheno/go-talib"

	"github.com/indiquant/kitebot/internal/broker"
)

// EnhancedMomentum is a six-factor composite: medium return, RSI bias,
// MACD histogram, ROC, linear-regression slope and slope acceleration.
// It signals only when every factor agrees and the composite strength
// clears its floor.
type EnhancedMomentum struct {
	ReturnPeriod int
	RSIPeriod    int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	ROCPeriod    int
	SlopePeriod  int
	MinStrength  float64
}

// NewEnhancedMomentum uses the standard parameter set.
func NewEnhancedMomentum() *EnhancedMomentum {
	return &EnhancedMomentum{
		ReturnPeriod: 10,
		RSIPeriod:    7,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		ROCPeriod:    12,
		SlopePeriod:  20,
		MinStrength:  0.35,
	}
}

// Name implements Strategy.
func (s *EnhancedMomentum) Name() string { return "enhanced_momentum" }

// MinBars implements Strategy.
func (s *EnhancedMomentum) MinBars() int { return s.MACDSlow + s.MACDSignal + extraBars }

type factor struct {
	name      string
	direction int
	magnitude float64 // [0,1]
}

// Evaluate implements Strategy.
func (s *EnhancedMomentum) Evaluate(bars []broker.Bar, symbol string) Signal {
	if len(bars) < s.MinBars() {
		return hold(ReasonInsufficientData)
	}
	c := closes(bars)

	ret := last(c)/prior(c, s.ReturnPeriod) - 1
	rsi := last(talib.Rsi(c, s.RSIPeriod))
	_, _, macdHist := talib.Macd(c, s.MACDFast, s.MACDSlow, s.MACDSignal)
	hist := last(macdHist)
	roc := last(talib.Roc(c, s.ROCPeriod))
	slopes := talib.LinearRegSlope(c, s.SlopePeriod)
	slope := last(slopes)
	// Acceleration: change of the regression slope over the last 5
	// bars, smoothed by the regression itself.
	accel := slope - prior(slopes, 5)

	price := last(c)
	if anyNaN(ret, rsi, hist, roc, slope, accel) || price <= 0 {
		return hold("nan_window")
	}

	factors := []factor{
		{"return", sign(ret), clamp01(abs(ret) * 50)},
		{"rsi", sign(rsi - 50), clamp01(abs(rsi-50) / 25)},
		{"macd", sign(hist), clamp01(abs(hist) / price * 2000)},
		{"roc", sign(roc), clamp01(abs(roc) / 2)},
		{"slope", sign(slope), clamp01(abs(slope) / price * 5000)},
		{"accel", sign(accel), clamp01(abs(accel) / price * 10000)},
	}

	direction := factors[0].direction
	if direction == 0 {
		return hold("flat_return")
	}
	var sum float64
	names := make([]string, 0, len(factors))
	for _, f := range factors {
		if f.direction != direction {
			return hold("factors_disagree")
		}
		sum += f.magnitude
		names = append(names, f.name)
	}
	strength := clamp01(sum / float64(len(factors)))
	if strength < s.MinStrength {
		return hold(fmt.Sprintf("composite %.2f below floor", strength))
	}

	word := "bullish"
	if direction == DirectionSell {
		word = "bearish"
	}
	return Signal{direction, strength,
		fmt.Sprintf("%s momentum: %s aligned at %.2f", word, strings.Join(names, "+"), strength)}
}

func sign(x float64) int {
	switch {
	case x > 0:
		return DirectionBuy
	case x < 0:
		return DirectionSell
	}
	return DirectionHold
}
