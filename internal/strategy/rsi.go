package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/indiquant/kitebot/internal/broker"
)

// RSIReversal buys deeply oversold and sells deeply overbought
// conditions on a short Wilder RSI.
type RSIReversal struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// NewRSIReversal uses RSI(7) with 25/75 bands.
func NewRSIReversal() *RSIReversal {
	return &RSIReversal{Period: 7, Oversold: 25, Overbought: 75}
}

// Name implements Strategy.
func (s *RSIReversal) Name() string { return "rsi_reversal" }

// MinBars implements Strategy.
func (s *RSIReversal) MinBars() int { return s.Period + extraBars }

// Evaluate implements Strategy.
func (s *RSIReversal) Evaluate(bars []broker.Bar, symbol string) Signal {
	if len(bars) < s.MinBars() {
		return hold(ReasonInsufficientData)
	}
	rsi := last(talib.Rsi(closes(bars), s.Period))
	if anyNaN(rsi) {
		return hold("nan_window")
	}

	switch {
	case rsi <= s.Oversold:
		// Deeper oversold scales toward full strength.
		strength := clamp01(0.5 + (s.Oversold-rsi)/(2*s.Oversold))
		return Signal{DirectionBuy, strength, fmt.Sprintf("rsi%d oversold at %.1f", s.Period, rsi)}
	case rsi >= s.Overbought:
		strength := clamp01(0.5 + (rsi-s.Overbought)/(2*(100-s.Overbought)))
		return Signal{DirectionSell, strength, fmt.Sprintf("rsi%d overbought at %.1f", s.Period, rsi)}
	}
	return hold(fmt.Sprintf("rsi%d neutral at %.1f", s.Period, rsi))
}
