package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/indiquant/kitebot/internal/broker"
)

// BollingerReversion trades touches of the Bollinger bands back toward
// the mean.
type BollingerReversion struct {
	Period int
	StdDev float64
}

// NewBollingerReversion uses SMA(20) with 2 standard deviations.
func NewBollingerReversion() *BollingerReversion {
	return &BollingerReversion{Period: 20, StdDev: 2}
}

// Name implements Strategy.
func (s *BollingerReversion) Name() string { return "bollinger_reversion" }

// MinBars implements Strategy.
func (s *BollingerReversion) MinBars() int { return s.Period + extraBars }

// Evaluate implements Strategy.
func (s *BollingerReversion) Evaluate(bars []broker.Bar, symbol string) Signal {
	if len(bars) < s.MinBars() {
		return hold(ReasonInsufficientData)
	}
	c := closes(bars)
	upper, middle, lower := talib.BBands(c, s.Period, s.StdDev, s.StdDev, 0)

	close_ := last(c)
	up, mid, low := last(upper), last(middle), last(lower)
	if anyNaN(close_, up, mid, low) || up <= low {
		return hold("nan_window")
	}
	width := up - low

	switch {
	case close_ <= low:
		strength := clamp01(0.5 + (low-close_)/width)
		return Signal{DirectionBuy, strength,
			fmt.Sprintf("close %.2f at/below lower band %.2f", close_, low)}
	case close_ >= up:
		strength := clamp01(0.5 + (close_-up)/width)
		return Signal{DirectionSell, strength,
			fmt.Sprintf("close %.2f at/above upper band %.2f", close_, up)}
	}
	return hold("inside_bands")
}
