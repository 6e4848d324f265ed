package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybot/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daybot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ALPACA_API_KEY", "ALPACA_API_SECRET",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"DATA_DIR", "SQLITE_PATH", "LOG_LEVEL", "DISCORD_WEBHOOK_URL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

const validYAML = `
storage:
  data_dir: "/tmp/daybot/data"
  sqlite_path: "/tmp/daybot/daybot.db"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  paper_mode: true
logging:
  level: "info"
  format: "json"
session:
  timezone: "America/New_York"
  market_open: "09:30"
  opening_end: "10:00"
  closing_prep_start: "15:30"
  closing_exec_start: "15:50"
  market_close: "16:00"
  holidays: ["2026-01-01", "2026-07-03"]
trading:
  tick_interval: 30s
  reconcile_interval: 5s
  slippage_buffer: 0.07
  pending_timeout: 5m
strategies:
  - name: "opening-breakout"
    window_start: "09:30"
    window_end: "10:00"
    symbols: ["AAPL", "MSFT"]
  - name: "closing-price"
    window_start: "15:30"
    window_end: "15:50"
    symbols: ["SPY"]
`

func TestLoadValid(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/daybot/data", cfg.Storage.DataDir)
	assert.Equal(t, "test-key", cfg.Alpaca.APIKey)
	assert.True(t, cfg.Alpaca.PaperMode)
	assert.Equal(t, 30*time.Second, cfg.Trading.TickInterval.Std())
	assert.Equal(t, 5*time.Second, cfg.Trading.ReconcileInterval.Std())
	assert.Equal(t, 0.07, cfg.Trading.SlippageBuffer)
	assert.Equal(t, 5*time.Minute, cfg.Trading.PendingTimeout.Std())
	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, "opening-breakout", cfg.Strategies[0].Name)

	// Defaults fill unspecified values.
	assert.Equal(t, 5, cfg.Trading.ErrorBurstLimit)
	assert.Equal(t, 10*time.Second, cfg.Trading.QuoteCacheTTL.Std())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")
	t.Setenv("DATA_DIR", "/env/data")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Alpaca.APIKey)
	assert.Equal(t, "env-secret", cfg.Alpaca.APISecret)
	assert.Equal(t, "/env/data", cfg.Storage.DataDir)
}

func TestValidateOverlappingWindows(t *testing.T) {
	clearEnv(t)

	overlapping := validYAML + `
  - name: "volume-spike"
    window_start: "09:45"
    window_end: "11:00"
    symbols: ["TSLA"]
`
	_, err := Load(writeConfig(t, overlapping))
	require.Error(t, err)

	var cerr *domain.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Detail, "overlap")
}

func TestValidateMissingCredentials(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, `
session:
  market_open: "09:30"
`))
	require.NoError(t, err, "credentials are not required to load")

	err = cfg.ValidateCredentials()
	require.Error(t, err)

	var cerr *domain.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Detail, "credentials")
}

func TestValidateBadSessionOrder(t *testing.T) {
	clearEnv(t)

	bad := `
alpaca:
  api_key: "k"
  api_secret: "s"
session:
  market_open: "10:00"
  opening_end: "09:00"
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)

	var cerr *domain.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestParseMinutes(t *testing.T) {
	m, err := ParseMinutes("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	_, err = ParseMinutes("25:00")
	assert.Error(t, err)
}
