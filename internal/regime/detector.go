// Package regime classifies the market-wide trend from a reference
// index and exposes the directional bias used to veto counter-trend
// entries.
package regime

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/indiquant/kitebot/internal/broker"
)

// Regime labels.
const (
	Bullish  = "bullish"
	Bearish  = "bearish"
	Sideways = "sideways"
	Unknown  = "unknown"
)

// Biases derived from the regime.
const (
	BiasBullish = "bullish"
	BiasBearish = "bearish"
	BiasNeutral = "neutral"
)

// Detector parameters.
const (
	shortPeriod    = 20
	longPeriod     = 50
	adxPeriod      = 14
	slopeBars      = 5
	adxTrendFloor  = 20.0
	slopeThreshold = 0.0005
	barInterval    = "30m"
	historyDays    = 30
)

// State is a regime snapshot.
type State struct {
	Symbol     string    `json:"symbol"`
	Regime     string    `json:"regime"`
	Bias       string    `json:"bias"`
	ADX        float64   `json:"adx"`
	ShortMA    float64   `json:"short_ma"`
	LongMA     float64   `json:"long_ma"`
	ShortSlope float64   `json:"short_slope"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// barFetcher is the slice of the data provider the detector needs.
type barFetcher interface {
	FetchOHLCV(ctx context.Context, symbol, interval string, days int) []broker.Bar
}

// Detector computes and caches the market regime for one index symbol.
type Detector struct {
	provider barFetcher
	symbol   string
	logger   *log.Logger

	mu      sync.RWMutex
	current State

	now func() time.Time
}

// NewDetector watches the given index symbol, NIFTY by convention.
func NewDetector(provider barFetcher, symbol string, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.Default()
	}
	return &Detector{
		provider: provider,
		symbol:   symbol,
		logger:   logger,
		current:  State{Symbol: symbol, Regime: Unknown, Bias: BiasNeutral},
		now:      time.Now,
	}
}

// Current returns the cached regime state.
func (d *Detector) Current() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Refresh recomputes the regime from fresh bars. On fetch failure the
// previous state is kept with its confidence decayed.
func (d *Detector) Refresh(ctx context.Context) State {
	bars := d.provider.FetchOHLCV(ctx, d.symbol, barInterval, historyDays)

	d.mu.Lock()
	defer d.mu.Unlock()
	next := Classify(bars, d.current)
	next.Symbol = d.symbol
	next.UpdatedAt = d.now()
	if next.Regime != d.current.Regime {
		d.logger.Printf("regime %s: %s -> %s (adx %.1f, slope %.5f, confidence %.2f)",
			d.symbol, d.current.Regime, next.Regime, next.ADX, next.ShortSlope, next.Confidence)
	}
	d.current = next
	return next
}

// Classify derives a regime state from a bar window. When the window
// is too short or the indicators are indecisive, the previous bias is
// retained with lowered confidence.
func Classify(bars []broker.Bar, prev State) State {
	minBars := longPeriod + slopeBars + 1
	if len(bars) < minBars {
		return decay(prev)
	}

	var highs, lows, closes []float64
	for _, b := range bars {
		highs = append(highs, b.High)
		lows = append(lows, b.Low)
		closes = append(closes, b.Close)
	}

	shortEMA := talib.Ema(closes, shortPeriod)
	longEMA := talib.Ema(closes, longPeriod)
	adxSeries := talib.Adx(highs, lows, closes, adxPeriod)

	shortMA := shortEMA[len(shortEMA)-1]
	longMA := longEMA[len(longEMA)-1]
	adx := adxSeries[len(adxSeries)-1]
	shortAgo := shortEMA[len(shortEMA)-1-slopeBars]
	if isBad(shortMA) || isBad(longMA) || isBad(adx) || isBad(shortAgo) || shortAgo == 0 {
		return decay(prev)
	}
	// Per-bar fractional slope over the last 5 bars.
	shortSlope := (shortMA/shortAgo - 1) / slopeBars

	confidence := math.Min(1, adx/50+math.Min(0.5, math.Abs(shortSlope)*50))

	st := State{
		ADX:        adx,
		ShortMA:    shortMA,
		LongMA:     longMA,
		ShortSlope: shortSlope,
		Confidence: confidence,
	}
	switch {
	case adx >= adxTrendFloor && shortMA > longMA && shortSlope > slopeThreshold:
		st.Regime, st.Bias = Bullish, BiasBullish
	case adx >= adxTrendFloor && shortMA < longMA && shortSlope < -slopeThreshold:
		st.Regime, st.Bias = Bearish, BiasBearish
	case adx < adxTrendFloor && math.Abs(shortSlope) <= slopeThreshold:
		st.Regime, st.Bias = Sideways, BiasNeutral
	default:
		// Indecisive: keep the previous bias, lower the confidence.
		st.Regime = prev.Regime
		st.Bias = prev.Bias
		if st.Regime == "" {
			st.Regime, st.Bias = Unknown, BiasNeutral
		}
		st.Confidence = prev.Confidence * 0.7
	}
	return st
}

func decay(prev State) State {
	next := prev
	if next.Regime == "" {
		next.Regime, next.Bias = Unknown, BiasNeutral
	}
	next.Confidence = prev.Confidence * 0.7
	return next
}

func isBad(x float64) bool {
	return math.IsNaN(x) || math.IsInf(x, 0)
}

// TrendStrength maps ADX into [0,1] for the option strategy selector.
func (s State) TrendStrength() float64 {
	return math.Min(1, s.ADX/50)
}
