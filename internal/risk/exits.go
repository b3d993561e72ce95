package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/indiquant/kitebot/internal/portfolio"
)

// Exit score factor weights. They sum to 1; the composite is compared
// against ExitThreshold.
const (
	weightPnL          = 0.40
	weightTime         = 0.15
	weightDrawdown     = 0.20
	weightVolatility   = 0.10
	weightInvalidation = 0.15
)

// ExitConfig holds the exit scoring parameters.
type ExitConfig struct {
	Threshold    float64       // composite score floor for an exit
	ExpectedHold time.Duration // horizon against which time-held is scored
	MaxPriceAge  time.Duration // quotes older than this are unusable for exits
}

// DefaultExit uses a 0.6 threshold, 90 minute horizon and the 120
// second staleness window.
func DefaultExit() ExitConfig {
	return ExitConfig{Threshold: 0.6, ExpectedHold: 90 * time.Minute, MaxPriceAge: 120 * time.Second}
}

// ExitDecision is a scored verdict on one open position.
type ExitDecision struct {
	ShouldExit bool
	Score      float64
	Reasons    []string
	StopHit    bool // stop-loss breach, extends the cooldown
}

// ExitInputs carries the per-position evidence for scoring.
type ExitInputs struct {
	Position     portfolio.Position
	Price        float64       // current price
	PriceAge     time.Duration // staleness of Price
	Now          time.Time
	CurrentATR   float64 // 0 when unknown
	Invalidation float64 // [0,1] exit confidence from the strategy roster
}

// ScoreExit computes the composite exit score for a long position.
// Hard bracket breaches (stop or target) force an exit regardless of
// the composite. Stale prices refuse to act at all.
func ScoreExit(cfg ExitConfig, in ExitInputs) (ExitDecision, error) {
	pos := in.Position
	if in.Price <= 0 {
		return ExitDecision{}, fmt.Errorf("score exit %s: no price", pos.Symbol)
	}
	if in.PriceAge > cfg.MaxPriceAge {
		return ExitDecision{}, fmt.Errorf("score exit %s: price is %s stale", pos.Symbol, in.PriceAge)
	}

	var reasons []string
	decision := ExitDecision{}

	// Hard brackets first.
	if pos.IsShort() {
		if pos.StopLoss > 0 && in.Price >= pos.StopLoss {
			decision.StopHit = true
			reasons = append(reasons, fmt.Sprintf("stop_loss: %.2f breached %.2f", in.Price, pos.StopLoss))
		}
		if pos.TakeProfit > 0 && in.Price <= pos.TakeProfit {
			reasons = append(reasons, fmt.Sprintf("take_profit: %.2f reached %.2f", in.Price, pos.TakeProfit))
		}
	} else {
		if pos.StopLoss > 0 && in.Price <= pos.StopLoss {
			decision.StopHit = true
			reasons = append(reasons, fmt.Sprintf("stop_loss: %.2f breached %.2f", in.Price, pos.StopLoss))
		}
		if pos.TakeProfit > 0 && in.Price >= pos.TakeProfit {
			reasons = append(reasons, fmt.Sprintf("take_profit: %.2f reached %.2f", in.Price, pos.TakeProfit))
		}
	}
	if len(reasons) > 0 {
		decision.ShouldExit = true
		decision.Score = 1
		decision.Reasons = reasons
		return decision, nil
	}

	pnlScore := pnlFactor(pos, in.Price)
	timeScore := clamp01(in.Now.Sub(pos.EntryTime).Minutes() / cfg.ExpectedHold.Minutes())
	ddScore := drawdownFactor(pos, in.Price)
	volScore := volatilityFactor(pos.ATR, in.CurrentATR)
	invScore := clamp01(in.Invalidation)

	score := pnlScore*weightPnL + timeScore*weightTime + ddScore*weightDrawdown +
		volScore*weightVolatility + invScore*weightInvalidation

	if pnlScore > 0.5 {
		reasons = append(reasons, fmt.Sprintf("pnl pressure %.2f", pnlScore))
	}
	if timeScore >= 1 {
		reasons = append(reasons, "held past expected horizon")
	}
	if ddScore > 0.5 {
		reasons = append(reasons, fmt.Sprintf("drawdown from peak %.2f", ddScore))
	}
	if volScore > 0.5 {
		reasons = append(reasons, "volatility expanded since entry")
	}
	if invScore > 0.5 {
		reasons = append(reasons, fmt.Sprintf("strategy invalidation %.2f", invScore))
	}

	decision.Score = score
	decision.ShouldExit = score >= cfg.Threshold
	if decision.ShouldExit && len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("composite score %.2f", score))
	}
	decision.Reasons = reasons
	return decision, nil
}

// pnlFactor maps the position of price within the bracket to [0,1]:
// losses approaching the stop score high, gains approaching the target
// score moderately.
func pnlFactor(pos portfolio.Position, price float64) float64 {
	entry := pos.EntryPrice
	stop, target := pos.StopLoss, pos.TakeProfit
	if pos.IsShort() {
		// Mirror the geometry for shorts.
		if price > entry && stop > entry {
			return clamp01((price - entry) / (stop - entry) * 0.9)
		}
		if price < entry && target > 0 && entry > target {
			return clamp01((entry - price) / (entry - target) * 0.6)
		}
		return 0
	}
	if price < entry && stop > 0 && entry > stop {
		return clamp01((entry - price) / (entry - stop) * 0.9)
	}
	if price > entry && target > entry {
		return clamp01((price - entry) / (target - entry) * 0.6)
	}
	return 0
}

// drawdownFactor scores the give-back from the peak in ATR units.
func drawdownFactor(pos portfolio.Position, price float64) float64 {
	if pos.ATR <= 0 || pos.PeakPrice <= 0 {
		return 0
	}
	var giveback float64
	if pos.IsShort() {
		giveback = price - pos.PeakPrice
	} else {
		giveback = pos.PeakPrice - price
	}
	return clamp01(giveback / (pos.ATR * 2))
}

// volatilityFactor scores ATR expansion since entry.
func volatilityFactor(entryATR, currentATR float64) float64 {
	if entryATR <= 0 || currentATR <= 0 {
		return 0
	}
	return clamp01((currentATR/entryATR - 1) * 2)
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
