package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeFeesEquityBuy(t *testing.T) {
	f := ComputeFees(10000, SideBuy, KindEquity, "NSE")
	assert.InDelta(t, 3.0, f.Brokerage, 1e-9) // 0.03% under the cap
	assert.Zero(t, f.STT)                     // intraday STT on sell only
	assert.InDelta(t, 10000*0.00003, f.StampDuty, 1e-9)
	assert.InDelta(t, (f.Brokerage+f.Exchange)*0.18, f.GST, 1e-9)
	assert.InDelta(t, f.Brokerage+f.STT+f.Exchange+f.SEBI+f.StampDuty+f.GST, f.Total, 1e-9)
}

func TestComputeFeesEquityBrokerageCap(t *testing.T) {
	f := ComputeFees(10_000_000, SideBuy, KindEquity, "NSE")
	assert.InDelta(t, 20, f.Brokerage, 1e-9)
}

func TestComputeFeesEquitySellHasSTTNoStamp(t *testing.T) {
	f := ComputeFees(100000, SideSell, KindEquity, "NSE")
	assert.InDelta(t, 100000*0.00025, f.STT, 1e-9)
	assert.Zero(t, f.StampDuty)
}

func TestComputeFeesOptionFlatBrokerage(t *testing.T) {
	buyFee := ComputeFees(5000, SideBuy, KindIndexOption, "NFO")
	assert.InDelta(t, 20, buyFee.Brokerage, 1e-9)
	assert.Zero(t, buyFee.STT)

	sellFee := ComputeFees(5000, SideSell, KindIndexOption, "NFO")
	assert.InDelta(t, 5000*0.000625, sellFee.STT, 1e-9)
	assert.Greater(t, sellFee.Total, buyFee.STT)
}

func TestComputeFeesFutures(t *testing.T) {
	f := ComputeFees(1_000_000, SideSell, KindIndexFuture, "NFO")
	assert.InDelta(t, 20, f.Brokerage, 1e-9)
	assert.InDelta(t, 1_000_000*0.000125, f.STT, 1e-9)
}

func TestComputeFeesZeroNotional(t *testing.T) {
	assert.Zero(t, ComputeFees(0, SideBuy, KindEquity, "NSE"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindEquity, KindOf("RELIANCE"))
	assert.Equal(t, KindIndexOption, KindOf("NIFTY25SEP22500CE"))
	assert.Equal(t, KindIndexFuture, KindOf("BANKNIFTY25SEPFUT"))
	assert.Equal(t, KindStockFuture, KindOf("RELIANCE25SEPFUT"))
	assert.Equal(t, KindStockOption, KindOf("RELIANCE25SEP3000CE"))
}
