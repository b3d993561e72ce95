package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationGuardBlocksPairedIndex(t *testing.T) {
	p := newPaperPortfolio(10_000_000)
	_, _, err := p.OpenLong(OpenParams{Symbol: "SENSEX25SEP81000CE", Shares: 20, Price: 400})
	require.NoError(t, err)

	err = p.CheckCorrelation("NIFTY25SEP22500CE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation guard")

	// The reverse direction is symmetric.
	q := newPaperPortfolio(10_000_000)
	_, _, err = q.OpenLong(OpenParams{Symbol: "BANKNIFTY25SEP51000CE", Shares: 35, Price: 300})
	require.NoError(t, err)
	assert.Error(t, q.CheckCorrelation("BANKEX25SEP60000PE"))
}

func TestCorrelationGuardAllowsUnrelated(t *testing.T) {
	p := newPaperPortfolio(10_000_000)
	_, _, err := p.OpenLong(OpenParams{Symbol: "NIFTY25SEP22500CE", Shares: 75, Price: 180})
	require.NoError(t, err)

	assert.NoError(t, p.CheckCorrelation("BANKNIFTY25SEP51000CE"))
	assert.NoError(t, p.CheckCorrelation("RELIANCE"), "equities bypass the guard")
}

func TestCorrelationGuardSeesShortKeys(t *testing.T) {
	p := newPaperPortfolio(10_000_000)
	_, _, err := p.OpenShort(OpenParams{Symbol: "SENSEX25SEP81000CE", Shares: 20, Price: 400})
	require.NoError(t, err)
	assert.Error(t, p.CheckCorrelation("NIFTY25SEP22500CE"))
}

func TestConcentrationGuard(t *testing.T) {
	p := newPaperPortfolio(100_000_000)
	open := func(symbol, strategy string) {
		t.Helper()
		_, _, err := p.OpenLong(OpenParams{Symbol: symbol, Shares: 10, Price: 100, Strategy: strategy})
		require.NoError(t, err)
	}

	// First position of a strategy is always allowed.
	assert.NoError(t, p.CheckConcentration("momentum"))
	open("AAA", "momentum")

	// A second momentum position would be 2/2 = 100%.
	assert.Error(t, p.CheckConcentration("momentum"))

	open("BBB", "rsi")
	open("CCC", "bollinger")
	// Now 2/4 = 50% is within the 60% cap.
	assert.NoError(t, p.CheckConcentration("momentum"))

	assert.NoError(t, p.CheckConcentration(""), "untagged opens are not capped")
}
