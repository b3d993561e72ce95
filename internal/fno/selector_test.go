package fno

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectStrategyDirectional(t *testing.T) {
	sel := SelectStrategy(MarketState{Regime: "bullish", TrendStrength: 0.7})
	assert.Equal(t, StrategyCallButterfly, sel.Strategy)
	assert.NotEmpty(t, sel.Rationale)

	sel = SelectStrategy(MarketState{Regime: "bearish", RegimeConfidence: 0.6})
	assert.Equal(t, StrategyPutButterfly, sel.Strategy)
}

func TestSelectStrategySideways(t *testing.T) {
	sel := SelectStrategy(MarketState{Regime: "sideways", IVRegime: IVHigh, LiquidityScore: 0.8})
	assert.Equal(t, StrategyIronCondor, sel.Strategy)

	sel = SelectStrategy(MarketState{Regime: "sideways", IVRegime: IVHigh, LiquidityScore: 0.2})
	assert.Equal(t, StrategyStrangle, sel.Strategy)

	sel = SelectStrategy(MarketState{Regime: "sideways", IVRegime: IVLow})
	assert.Equal(t, StrategyStraddle, sel.Strategy)

	sel = SelectStrategy(MarketState{Regime: "sideways", IVRegime: IVNormal})
	assert.Equal(t, StrategyIronCondor, sel.Strategy)
}

func TestBuildLegsStraddle(t *testing.T) {
	chain := testChain(t, 20, 0)
	legs, err := BuildLegs(chain, StrategyStraddle, 2)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	for _, l := range legs {
		assert.Equal(t, "BUY", l.Side)
		assert.Equal(t, 2*75, l.Quantity)
		assert.InDelta(t, 22500, l.Strike, 1e-9)
	}
	assert.Equal(t, RightCall, legs[0].Right)
	assert.Equal(t, RightPut, legs[1].Right)
}

func TestBuildLegsIronCondor(t *testing.T) {
	chain := testChain(t, 40, 0)
	legs, err := BuildLegs(chain, StrategyIronCondor, 1)
	require.NoError(t, err)
	require.Len(t, legs, 4)

	assert.Equal(t, "SELL", legs[0].Side)
	assert.Equal(t, "SELL", legs[1].Side)
	assert.Equal(t, "BUY", legs[2].Side)
	assert.Equal(t, "BUY", legs[3].Side)

	// Long wings sit further out than the short body.
	assert.Greater(t, legs[2].Strike, legs[0].Strike)
	assert.Less(t, legs[3].Strike, legs[1].Strike)
	for _, l := range legs {
		assert.Equal(t, 75, l.Quantity)
		assert.NotEmpty(t, l.Symbol)
	}
}

func TestBuildLegsButterflyBodyIsDouble(t *testing.T) {
	chain := testChain(t, 40, 0)
	legs, err := BuildLegs(chain, StrategyCallButterfly, 1)
	require.NoError(t, err)
	require.Len(t, legs, 3)
	assert.Equal(t, "BUY", legs[0].Side)
	assert.Equal(t, "SELL", legs[1].Side)
	assert.Equal(t, "BUY", legs[2].Side)
	assert.Equal(t, 2*75, legs[1].Quantity)
	assert.Equal(t, 75, legs[0].Quantity)
	for _, l := range legs {
		assert.Equal(t, RightCall, l.Right)
	}
	assert.Less(t, legs[0].Strike, legs[1].Strike)
	assert.Greater(t, legs[2].Strike, legs[1].Strike)
}

func TestBuildLegsSparseChainFails(t *testing.T) {
	// Single strike on each side: butterfly legs collapse.
	chain := testChain(t, 1, 0)
	_, err := BuildLegs(chain, StrategyCallButterfly, 1)
	assert.Error(t, err)
}

func TestBuildLegsValidation(t *testing.T) {
	chain := testChain(t, 10, 0)
	_, err := BuildLegs(chain, StrategyStraddle, 0)
	assert.Error(t, err)

	_, err = BuildLegs(chain, StrategyName("calendar"), 1)
	assert.Error(t, err)
}

func TestClassifyIV(t *testing.T) {
	assert.Equal(t, IVHigh, ClassifyIV(0.25, 0.20))
	assert.Equal(t, IVLow, ClassifyIV(0.12, 0.20))
	assert.Equal(t, IVNormal, ClassifyIV(0.20, 0.20))
	assert.Equal(t, IVNormal, ClassifyIV(0.20, 0))
}

func TestNextExpiry(t *testing.T) {
	// From Wed Sep 3, 2025: next NIFTY Thursday is Sep 4, next
	// MIDCPNIFTY Monday is Sep 8, same-day for BANKNIFTY (Wednesday).
	from := time.Date(2025, time.September, 3, 11, 0, 0, 0, ist)
	assert.Equal(t, 4, NextExpiry("NIFTY", from).Day())
	assert.Equal(t, 8, NextExpiry("MIDCPNIFTY", from).Day())
	assert.Equal(t, 3, NextExpiry("BANKNIFTY", from).Day())
}
