package fno

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestIsDerivative(t *testing.T) {
	assert.True(t, IsDerivative("NIFTY25SEP22500CE"))
	assert.True(t, IsDerivative("BANKNIFTY25O0751000PE"))
	assert.True(t, IsDerivative("NIFTY25SEPFUT"))
	assert.False(t, IsDerivative("RELIANCE"))
	assert.False(t, IsDerivative("M&M"))
}

func TestParseSymbolMonthly(t *testing.T) {
	c, err := ParseSymbol("NIFTY25SEP22500CE", ist)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY", c.Underlying)
	assert.Equal(t, RightCall, c.Right)
	assert.InDelta(t, 22500, c.Strike, 1e-9)
	assert.Equal(t, 75, c.LotSize)
	// Last Thursday of September 2025 is the 25th.
	assert.Equal(t, time.Date(2025, time.September, 25, 0, 0, 0, 0, ist), c.Expiry)
}

func TestParseSymbolMonthlyRespectsExpiryWeekday(t *testing.T) {
	// SENSEX monthlies expire on the last Tuesday: Sep 30, 2025.
	c, err := ParseSymbol("SENSEX25SEP81000PE", ist)
	require.NoError(t, err)
	assert.Equal(t, time.Tuesday, c.Expiry.Weekday())
	assert.Equal(t, 30, c.Expiry.Day())
	assert.Equal(t, 20, c.LotSize)
}

func TestParseSymbolWeekly(t *testing.T) {
	c, err := ParseSymbol("NIFTY25O0722500CE", ist)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.October, 7, 0, 0, 0, 0, ist), c.Expiry)
	assert.Equal(t, RightCall, c.Right)

	c, err = ParseSymbol("BANKNIFTY2590351000PE", ist)
	require.NoError(t, err)
	assert.Equal(t, "BANKNIFTY", c.Underlying)
	assert.Equal(t, time.Date(2025, time.September, 3, 0, 0, 0, 0, ist), c.Expiry)
	assert.InDelta(t, 51000, c.Strike, 1e-9)
	assert.Equal(t, RightPut, c.Right)
}

func TestParseSymbolFuture(t *testing.T) {
	c, err := ParseSymbol("BANKNIFTY25SEPFUT", ist)
	require.NoError(t, err)
	assert.Equal(t, RightFuture, c.Right)
	assert.Zero(t, c.Strike)
	assert.Equal(t, 35, c.LotSize)
}

func TestParseSymbolFailsLoud(t *testing.T) {
	for _, sym := range []string{"RELIANCE", "NIFTY25XYZ22500CE", "NIFTYFUT"} {
		_, err := ParseSymbol(sym, ist)
		assert.Error(t, err, sym)
	}
}

func TestBuildOptionSymbolRoundTrip(t *testing.T) {
	cases := []struct {
		underlying string
		expiry     time.Time
		strike     float64
		right      Right
		want       string
	}{
		{"NIFTY", time.Date(2025, time.September, 25, 0, 0, 0, 0, ist), 22500, RightCall, "NIFTY25SEP22500CE"},
		{"NIFTY", time.Date(2025, time.October, 7, 0, 0, 0, 0, ist), 22500, RightCall, "NIFTY25O0722500CE"},
		{"BANKNIFTY", time.Date(2025, time.September, 3, 0, 0, 0, 0, ist), 51000, RightPut, "BANKNIFTY2590351000PE"},
	}
	for _, tc := range cases {
		got := BuildOptionSymbol(tc.underlying, tc.expiry, tc.strike, tc.right)
		assert.Equal(t, tc.want, got)

		parsed, err := ParseSymbol(got, ist)
		require.NoError(t, err)
		assert.Equal(t, tc.expiry, parsed.Expiry)
		assert.InDelta(t, tc.strike, parsed.Strike, 1e-9)
		assert.Equal(t, tc.right, parsed.Right)
	}
}

func TestLotSize(t *testing.T) {
	for underlying, want := range map[string]int{
		"NIFTY": 75, "BANKNIFTY": 35, "FINNIFTY": 65,
		"MIDCPNIFTY": 140, "SENSEX": 20, "BANKEX": 30, "NIFTYNXT50": 25,
	} {
		lot, err := LotSize(underlying)
		require.NoError(t, err)
		assert.Equal(t, want, lot, underlying)
	}
	_, err := LotSize("RELIANCE")
	assert.Error(t, err)
}

func TestExchangeRouting(t *testing.T) {
	assert.Equal(t, "NFO", Exchange("NIFTY"))
	assert.Equal(t, "NFO", Exchange("BANKNIFTY"))
	assert.Equal(t, "BFO", Exchange("SENSEX"))
	assert.Equal(t, "BFO", Exchange("BANKEX"))
}

func TestUnderlyingOfPrefersLongestPrefix(t *testing.T) {
	u, ok := UnderlyingOf("BANKNIFTY25SEP51000CE")
	require.True(t, ok)
	assert.Equal(t, "BANKNIFTY", u)

	u, ok = UnderlyingOf("NIFTY25SEPFUT")
	require.True(t, ok)
	assert.Equal(t, "NIFTY", u)

	_, ok = UnderlyingOf("RELIANCE25SEPFUT")
	assert.False(t, ok)
}

func TestIndexFamilyAndCorrelation(t *testing.T) {
	assert.Equal(t, "broad_market", IndexFamily("NIFTY"))
	assert.Equal(t, "broad_market", IndexFamily("SENSEX"))
	assert.Equal(t, "financials", IndexFamily("BANKNIFTY"))
	assert.Equal(t, "financials", IndexFamily("FINNIFTY"))
	assert.Equal(t, "SENSEX", HighCorrelationPairs["NIFTY"])
	assert.Equal(t, "BANKNIFTY", HighCorrelationPairs["BANKEX"])
}
