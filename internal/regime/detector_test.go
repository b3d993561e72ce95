package regime

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiquant/kitebot/internal/broker"
)

type stubFetcher struct {
	bars []broker.Bar
}

func (s *stubFetcher) FetchOHLCV(ctx context.Context, symbol, interval string, days int) []broker.Bar {
	return s.bars
}

// trendBars builds a bar series drifting by drift per bar with a small
// oscillation so ADX has directional movement to chew on.
func trendBars(n int, start, drift float64) []broker.Bar {
	t0 := time.Date(2025, time.September, 1, 9, 15, 0, 0, time.UTC)
	out := make([]broker.Bar, n)
	price := start
	for i := range out {
		price += drift
		wobble := math.Sin(float64(i)) * math.Abs(drift) * 0.2
		c := price + wobble
		out[i] = broker.Bar{
			Timestamp: t0.Add(time.Duration(i) * 30 * time.Minute),
			Open:      c - drift/2,
			High:      c + math.Abs(drift),
			Low:       c - math.Abs(drift),
			Close:     c,
			Volume:    10000,
		}
	}
	return out
}

func TestClassifyBullish(t *testing.T) {
	// 1% rise per bar, strongly trending.
	st := Classify(trendBars(120, 20000, 200), State{})
	assert.Equal(t, Bullish, st.Regime)
	assert.Equal(t, BiasBullish, st.Bias)
	assert.GreaterOrEqual(t, st.ADX, adxTrendFloor)
	assert.Greater(t, st.ShortSlope, slopeThreshold)
	assert.Greater(t, st.Confidence, 0.4)
	assert.LessOrEqual(t, st.Confidence, 1.0)
}

func TestClassifyBearish(t *testing.T) {
	st := Classify(trendBars(120, 45000, -200), State{})
	assert.Equal(t, Bearish, st.Regime)
	assert.Equal(t, BiasBearish, st.Bias)
}

func TestClassifySideways(t *testing.T) {
	// Flat drift: no trend, slope within the threshold.
	t0 := time.Date(2025, time.September, 1, 9, 15, 0, 0, time.UTC)
	bars := make([]broker.Bar, 120)
	for i := range bars {
		c := 22500 + math.Sin(float64(i)/3)*5
		bars[i] = broker.Bar{
			Timestamp: t0.Add(time.Duration(i) * 30 * time.Minute),
			Open:      c, High: c + 8, Low: c - 8, Close: c, Volume: 10000,
		}
	}
	st := Classify(bars, State{})
	assert.Equal(t, Sideways, st.Regime)
	assert.Equal(t, BiasNeutral, st.Bias)
}

func TestClassifyInsufficientDataDecaysPrevious(t *testing.T) {
	prev := State{Regime: Bullish, Bias: BiasBullish, Confidence: 0.8}
	st := Classify(nil, prev)
	assert.Equal(t, Bullish, st.Regime)
	assert.Equal(t, BiasBullish, st.Bias)
	assert.InDelta(t, 0.8*0.7, st.Confidence, 1e-9)

	// With no previous state the result is unknown/neutral.
	st = Classify(nil, State{})
	assert.Equal(t, Unknown, st.Regime)
	assert.Equal(t, BiasNeutral, st.Bias)
}

func TestDetectorRefreshCaches(t *testing.T) {
	fetcher := &stubFetcher{bars: trendBars(120, 20000, 200)}
	d := NewDetector(fetcher, "NIFTY", nil)
	now := time.Date(2025, time.September, 3, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	st := d.Refresh(context.Background())
	assert.Equal(t, Bullish, st.Regime)
	assert.Equal(t, "NIFTY", st.Symbol)
	assert.Equal(t, now, st.UpdatedAt)
	assert.Equal(t, st, d.Current())

	// A failed fetch keeps the bias and decays confidence.
	fetcher.bars = nil
	st2 := d.Refresh(context.Background())
	assert.Equal(t, Bullish, st2.Regime)
	assert.InDelta(t, st.Confidence*0.7, st2.Confidence, 1e-9)
}

func TestTrendStrength(t *testing.T) {
	assert.InDelta(t, 0.5, State{ADX: 25}.TrendStrength(), 1e-9)
	assert.InDelta(t, 1.0, State{ADX: 80}.TrendStrength(), 1e-9)
}

func TestDetectorInitialState(t *testing.T) {
	d := NewDetector(&stubFetcher{}, "NIFTY", nil)
	st := d.Current()
	require.Equal(t, Unknown, st.Regime)
	assert.Equal(t, BiasNeutral, st.Bias)
	assert.Zero(t, st.Confidence)
}
