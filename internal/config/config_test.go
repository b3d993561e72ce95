package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validPaperConfig = `
environment:
  mode: paper
  log_level: info
capital:
  initial_capital: 1000000
universe:
  symbols: [RELIANCE, TCS, INFY]
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validPaperConfig))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.False(t, cfg.IsLive())

	// Paper-mode defaults
	assert.Equal(t, 30*time.Second, cfg.Schedule.CheckInterval)
	assert.InDelta(t, 0.01, cfg.Risk.RiskPerTradePct, 1e-9)
	assert.Equal(t, 3, cfg.RateLimit.PerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.PerMinute)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, 60*time.Second, cfg.Cache.PriceTTL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.InstrumentTTL)
	assert.Equal(t, 10, cfg.Risk.CooldownMinutes)
	assert.Equal(t, 20, cfg.Risk.StopLossCooldownMin)
	assert.Equal(t, "NIFTY", cfg.Universe.RegimeIndex)
	assert.False(t, cfg.Schedule.BypassMarketHours)
}

func TestLiveModeDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment:
  mode: live
broker:
  api_key: k
  access_token: t
capital:
  initial_capital: 500000
universe:
  symbols: [NIFTY]
`))
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Schedule.CheckInterval)
	assert.InDelta(t, 0.005, cfg.Risk.RiskPerTradePct, 1e-9)
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
environment:
  mode: live
capital:
  initial_capital: 500000
universe:
  symbols: [NIFTY]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestInvalidMode(t *testing.T) {
	_, err := Load(writeConfig(t, `
environment:
  mode: yolo
capital:
  initial_capital: 100000
universe:
  symbols: [TCS]
`))
	assert.Error(t, err)
}

func TestCapitalBounds(t *testing.T) {
	for _, capital := range []string{"999", "100000001"} {
		_, err := Load(writeConfig(t, `
environment:
  mode: paper
capital:
  initial_capital: `+capital+`
universe:
  symbols: [TCS]
`))
		assert.Error(t, err, "capital %s should be rejected", capital)
	}
}

func TestSymbolsMustBeUppercase(t *testing.T) {
	_, err := Load(writeConfig(t, `
environment:
  mode: paper
capital:
  initial_capital: 100000
universe:
  symbols: [reliance]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uppercase")
}

func TestStopLossCooldownFloor(t *testing.T) {
	_, err := Load(writeConfig(t, `
environment:
  mode: paper
capital:
  initial_capital: 100000
universe:
  symbols: [TCS]
risk:
  cooldown_minutes: 10
  stop_loss_cooldown_minutes: 15
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop_loss_cooldown")
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("KITEBOT_TEST_CAPITAL", "250000")
	cfg, err := Load(writeConfig(t, `
environment:
  mode: paper
capital:
  initial_capital: ${KITEBOT_TEST_CAPITAL}
universe:
  symbols: [TCS]
`))
	require.NoError(t, err)
	assert.InDelta(t, 250000, cfg.Capital.InitialCapital, 1e-9)
}

func TestUnknownFieldsRejected(t *testing.T) {
	_, err := Load(writeConfig(t, validPaperConfig+`
mystery_section:
  foo: 1
`))
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
