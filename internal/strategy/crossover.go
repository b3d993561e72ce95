package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/indiquant/kitebot/internal/broker"
)

// FastMACrossover signals when EMA(short) crosses EMA(long) with a
// minimum separation, filtering out flat-market whipsaws.
type FastMACrossover struct {
	Short         int
	Long          int
	MinSeparation float64 // fraction of the long EMA
}

// NewFastMACrossover uses EMA(3)/EMA(10) with 0.1% separation.
func NewFastMACrossover() *FastMACrossover {
	return &FastMACrossover{Short: 3, Long: 10, MinSeparation: 0.001}
}

// Name implements Strategy.
func (s *FastMACrossover) Name() string { return "fast_ma_crossover" }

// MinBars implements Strategy.
func (s *FastMACrossover) MinBars() int { return s.Long + extraBars }

// Evaluate implements Strategy.
func (s *FastMACrossover) Evaluate(bars []broker.Bar, symbol string) Signal {
	if len(bars) < s.MinBars() {
		return hold(ReasonInsufficientData)
	}
	c := closes(bars)
	shortEMA := talib.Ema(c, s.Short)
	longEMA := talib.Ema(c, s.Long)

	curShort, curLong := last(shortEMA), last(longEMA)
	prevShort, prevLong := prior(shortEMA, 1), prior(longEMA, 1)
	if anyNaN(curShort, curLong, prevShort, prevLong) || curLong == 0 {
		return hold("nan_window")
	}

	separation := (curShort - curLong) / curLong
	strength := clamp01(abs(separation) / (s.MinSeparation * 10))

	switch {
	case prevShort <= prevLong && curShort > curLong && separation > s.MinSeparation:
		return Signal{DirectionBuy, strength,
			fmt.Sprintf("ema%d crossed above ema%d, separation %.2f%%", s.Short, s.Long, separation*100)}
	case prevShort >= prevLong && curShort < curLong && -separation > s.MinSeparation:
		return Signal{DirectionSell, strength,
			fmt.Sprintf("ema%d crossed below ema%d, separation %.2f%%", s.Short, s.Long, -separation*100)}
	}
	return hold("no_crossover")
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
