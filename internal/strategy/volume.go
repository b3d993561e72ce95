package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/indiquant/kitebot/internal/broker"
)

// VolumeBreakout signals when volume expands well above its rolling
// mean while price moves decisively in one direction.
type VolumeBreakout struct {
	Period         int
	VolumeRatio    float64 // volume must exceed ratio x mean
	MinPriceChange float64 // |close change| as a fraction
}

// NewVolumeBreakout uses a 20-bar mean, 1.3x expansion, 0.1% move.
func NewVolumeBreakout() *VolumeBreakout {
	return &VolumeBreakout{Period: 20, VolumeRatio: 1.3, MinPriceChange: 0.001}
}

// Name implements Strategy.
func (s *VolumeBreakout) Name() string { return "volume_breakout" }

// MinBars implements Strategy.
func (s *VolumeBreakout) MinBars() int { return s.Period + extraBars }

// Evaluate implements Strategy.
func (s *VolumeBreakout) Evaluate(bars []broker.Bar, symbol string) Signal {
	if len(bars) < s.MinBars() {
		return hold(ReasonInsufficientData)
	}
	c := closes(bars)
	v := volumes(bars)

	meanVol := last(talib.Sma(v, s.Period))
	curVol := last(v)
	curClose, prevClose := last(c), prior(c, 1)
	if anyNaN(meanVol, curVol, curClose, prevClose) || meanVol <= 0 || prevClose <= 0 {
		return hold("nan_window")
	}

	ratio := curVol / meanVol
	change := (curClose - prevClose) / prevClose
	if ratio <= s.VolumeRatio || abs(change) <= s.MinPriceChange {
		return hold("no_breakout")
	}

	// Strength blends volume expansion and move size.
	strength := clamp01(0.3 + (ratio-s.VolumeRatio)/3 + abs(change)*50)
	reason := fmt.Sprintf("volume %.1fx mean with %.2f%% move", ratio, change*100)
	if change > 0 {
		return Signal{DirectionBuy, strength, reason}
	}
	return Signal{DirectionSell, strength, reason}
}
