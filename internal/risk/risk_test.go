package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiquant/kitebot/internal/portfolio"
)

func TestSizeEntryTierMin(t *testing.T) {
	cfg := DefaultSizing()
	// Low confidence: stop = atr*1.5*0.8, tier = 10% of cash.
	plan, err := SizeEntry(cfg, 500, 10, 0.3, 1_000_000)
	require.NoError(t, err)

	confAdj := 0.8 // max(0.8, 1-(0.6-0.3))
	stopDist := 10 * 1.5 * confAdj
	assert.InDelta(t, stopDist, plan.StopDistance, 1e-9)
	assert.InDelta(t, 500-stopDist, plan.StopLoss, 1e-9)
	assert.InDelta(t, 500+10*2.2, plan.TakeProfit, 1e-9)

	riskShares := int(1_000_000 * 0.01 / stopDist) // 833
	tierShares := int(1_000_000 * 0.10 / 500)      // 200
	assert.Equal(t, minInt(riskShares, tierShares), plan.Shares)
	assert.Equal(t, 200, plan.Shares, "tier caps the risk size")
}

func TestSizeEntryConfidenceTiers(t *testing.T) {
	cfg := DefaultSizing()
	low, err := SizeEntry(cfg, 500, 50, 0.3, 1_000_000)
	require.NoError(t, err)
	mid, err := SizeEntry(cfg, 500, 50, 0.55, 1_000_000)
	require.NoError(t, err)
	high, err := SizeEntry(cfg, 500, 50, 0.8, 1_000_000)
	require.NoError(t, err)

	assert.Less(t, low.Shares, mid.Shares)
	assert.Less(t, mid.Shares, high.Shares)

	// Target widens with confidence above 0.5.
	assert.InDelta(t, 500+50*2.2, low.TakeProfit, 1e-9)
	assert.InDelta(t, 500+50*(2.2+0.3), high.TakeProfit, 1e-9)
}

func TestSizeEntryRejectsZero(t *testing.T) {
	cfg := DefaultSizing()
	// Price far beyond what cash affords.
	_, err := SizeEntry(cfg, 5_000_000, 100, 0.8, 100_000)
	assert.Error(t, err)

	_, err = SizeEntry(cfg, 0, 100, 0.8, 100_000)
	assert.Error(t, err)
	_, err = SizeEntry(cfg, 500, 0, 0.8, 100_000)
	assert.Error(t, err)
}

func TestSizeEntryLots(t *testing.T) {
	cfg := DefaultSizing()
	plan, err := SizeEntryLots(cfg, 180, 12, 0.8, 1_000_000, 75)
	require.NoError(t, err)
	assert.Zero(t, plan.Shares%75, "always whole lots")
	assert.Greater(t, plan.Shares, 0)

	// Sized below one lot: rejected.
	_, err = SizeEntryLots(cfg, 180, 12, 0.3, 20_000, 75)
	assert.Error(t, err)

	_, err = SizeEntryLots(cfg, 180, 12, 0.3, 1_000_000, 0)
	assert.Error(t, err)
}

func TestTrailStop(t *testing.T) {
	cfg := DefaultTrailing()

	// Below activation profit: no trail.
	_, moved := TrailStop(cfg, 100, 105, 95, 10)
	assert.False(t, moved)

	// Armed: candidate = 115 - 12 = 103, above entry floor and stop.
	stop, moved := TrailStop(cfg, 100, 115, 95, 10)
	require.True(t, moved)
	assert.InDelta(t, 103, stop, 1e-9)

	// Candidate below the entry floor clamps to entry*1.001.
	stop, moved = TrailStop(cfg, 100, 110.5, 95, 10)
	require.True(t, moved)
	assert.InDelta(t, 100.1, stop, 1e-9)

	// Monotonic: a lower candidate never moves the stop down.
	_, moved = TrailStop(cfg, 100, 111, 103, 10)
	assert.False(t, moved)

	stop, moved = TrailStop(cfg, 100, 120, 103, 10)
	require.True(t, moved)
	assert.InDelta(t, 108, stop, 1e-9)
}

func exitPosition() portfolio.Position {
	return portfolio.Position{
		Symbol:     "RELIANCE",
		Shares:     100,
		EntryPrice: 500,
		StopLoss:   485,
		TakeProfit: 522,
		EntryTime:  time.Date(2025, time.September, 3, 10, 0, 0, 0, time.UTC),
		ATR:        10,
		PeakPrice:  500,
	}
}

func TestScoreExitStopBreachForcesExit(t *testing.T) {
	cfg := DefaultExit()
	d, err := ScoreExit(cfg, ExitInputs{
		Position: exitPosition(), Price: 484,
		Now: time.Date(2025, time.September, 3, 10, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.True(t, d.StopHit)
	require.NotEmpty(t, d.Reasons)
	assert.Contains(t, d.Reasons[0], "stop_loss")
}

func TestScoreExitTargetBreachForcesExit(t *testing.T) {
	d, err := ScoreExit(DefaultExit(), ExitInputs{
		Position: exitPosition(), Price: 523,
		Now: time.Date(2025, time.September, 3, 10, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.False(t, d.StopHit)
	assert.Contains(t, d.Reasons[0], "take_profit")
}

func TestScoreExitComposite(t *testing.T) {
	cfg := DefaultExit()
	pos := exitPosition()
	pos.PeakPrice = 515

	// Mild loss, held long, strategy invalidated, vol expanded: exits.
	d, err := ScoreExit(cfg, ExitInputs{
		Position: pos, Price: 492,
		Now:          pos.EntryTime.Add(3 * time.Hour),
		CurrentATR:   16,
		Invalidation: 0.9,
	})
	require.NoError(t, err)
	assert.True(t, d.ShouldExit, "score %.2f", d.Score)
	assert.False(t, d.StopHit)

	// Fresh position near entry with no pressure: holds.
	calm, err := ScoreExit(cfg, ExitInputs{
		Position: exitPosition(), Price: 501,
		Now: exitPosition().EntryTime.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, calm.ShouldExit, "score %.2f", calm.Score)
}

func TestScoreExitRejectsStalePrice(t *testing.T) {
	_, err := ScoreExit(DefaultExit(), ExitInputs{
		Position: exitPosition(), Price: 490,
		PriceAge: 3 * time.Minute,
		Now:      time.Date(2025, time.September, 3, 10, 30, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")

	_, err = ScoreExit(DefaultExit(), ExitInputs{Position: exitPosition(), Price: 0})
	assert.Error(t, err)
}

func TestScoreExitShortMirrorsBrackets(t *testing.T) {
	pos := portfolio.Position{
		Symbol: "NIFTY25SEP22500CE", Shares: -75,
		EntryPrice: 180, StopLoss: 220, TakeProfit: 120,
		EntryTime: time.Date(2025, time.September, 3, 10, 0, 0, 0, time.UTC),
		ATR:       12, PeakPrice: 180,
	}
	d, err := ScoreExit(DefaultExit(), ExitInputs{
		Position: pos, Price: 225, Now: pos.EntryTime.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.True(t, d.StopHit)

	d, err = ScoreExit(DefaultExit(), ExitInputs{
		Position: pos, Price: 115, Now: pos.EntryTime.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.False(t, d.StopHit)
}

func TestCooldownBoundaryIsStrict(t *testing.T) {
	c := NewCooldownTracker(10*time.Minute, 20*time.Minute)
	exit := time.Date(2025, time.September, 3, 11, 0, 0, 0, time.UTC)
	c.RecordExit("TCS", false, exit)

	assert.False(t, c.CanEnter("TCS", exit.Add(10*time.Minute-time.Nanosecond)))
	assert.True(t, c.CanEnter("TCS", exit.Add(10*time.Minute)), "entry opens exactly at the boundary")
	assert.True(t, c.CanEnter("UNRELATED", exit))
}

func TestCooldownStopLossExtends(t *testing.T) {
	c := NewCooldownTracker(10*time.Minute, 20*time.Minute)
	exit := time.Date(2025, time.September, 3, 11, 0, 0, 0, time.UTC)
	c.RecordExit("TCS", true, exit)

	assert.False(t, c.CanEnter("TCS", exit.Add(15*time.Minute)))
	assert.True(t, c.CanEnter("TCS", exit.Add(20*time.Minute)))
}

func TestCooldownSnapshotRestoreDropsExpired(t *testing.T) {
	c := NewCooldownTracker(10*time.Minute, 20*time.Minute)
	exit := time.Date(2025, time.September, 3, 11, 0, 0, 0, time.UTC)
	c.RecordExit("AAA", false, exit)
	c.RecordExit("BBB", true, exit)

	snap := c.Snapshot()
	require.Len(t, snap, 2)

	restored := NewCooldownTracker(10*time.Minute, 20*time.Minute)
	// 15 minutes later AAA has expired, BBB has not.
	restored.Restore(snap, exit.Add(15*time.Minute))
	assert.Equal(t, 1, restored.Active())
	assert.True(t, restored.CanEnter("AAA", exit.Add(15*time.Minute)))
	assert.False(t, restored.CanEnter("BBB", exit.Add(15*time.Minute)))
}

func TestExpiringKeys(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	day := time.Date(2025, time.September, 25, 0, 0, 0, 0, ist) // last Thursday of Sep

	positions := map[string]portfolio.Position{
		"NIFTY25SEP22500CE":                      {Symbol: "NIFTY25SEP22500CE"},
		portfolio.ShortKey("NIFTY25SEP22600CE"):  {Symbol: "NIFTY25SEP22600CE", Shares: -75},
		"BANKNIFTY25O0151000CE":                  {Symbol: "BANKNIFTY25O0151000CE"}, // Oct 1 weekly
		"RELIANCE":                               {Symbol: "RELIANCE"},
	}
	expiring, unparseable := ExpiringKeys(positions, day, ist)
	assert.ElementsMatch(t, []string{
		"NIFTY25SEP22500CE", portfolio.ShortKey("NIFTY25SEP22600CE"),
	}, expiring)
	assert.Empty(t, unparseable)
}
