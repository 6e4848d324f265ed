// Package config loads and validates the daybot YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"daybot/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the daybot engine.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Alpaca     Alpaca           `yaml:"alpaca"`
	Logging    Logging          `yaml:"logging"`
	Session    Session          `yaml:"session"`
	Trading    Trading          `yaml:"trading"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Notify     Notify           `yaml:"notify"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	PaperMode bool   `yaml:"paper_mode"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Session defines the trading-day phase boundaries as "HH:MM" wall-clock
// strings in Timezone, plus the non-trading holiday calendar.
type Session struct {
	Timezone         string   `yaml:"timezone"`
	MarketOpen       string   `yaml:"market_open"`        // opening phase starts
	OpeningEnd       string   `yaml:"opening_end"`        // midday starts
	ClosingPrepStart string   `yaml:"closing_prep_start"` // closing prep starts
	ClosingExecStart string   `yaml:"closing_exec_start"` // closing auction window
	MarketClose      string   `yaml:"market_close"`       // post-market starts
	Holidays         []string `yaml:"holidays"`           // "2006-01-02" dates
}

// Duration wraps time.Duration so YAML values may be written as "30s",
// "5m" and so on.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Trading defines execution, risk, and scheduling parameters.
type Trading struct {
	TickInterval       Duration `yaml:"tick_interval"`
	ReconcileInterval  Duration `yaml:"reconcile_interval"`
	SlippageBuffer     float64  `yaml:"slippage_buffer"`  // e.g. 0.07 for 7%
	MaxPositionPct     float64  `yaml:"max_position_pct"` // cap on single-position notional
	PendingTimeout     Duration `yaml:"pending_timeout"`
	AutoCancelStale    bool     `yaml:"auto_cancel_stale"`
	ErrorBurstLimit    int      `yaml:"error_burst_limit"`
	ShutdownAfterClose bool     `yaml:"shutdown_after_close"`
	QuoteCacheTTL      Duration `yaml:"quote_cache_ttl"`
	RateLimitPerSec    float64  `yaml:"rate_limit_per_sec"`
}

// StrategyConfig binds a registered strategy to its engine-enforced time
// window and its universe of symbols.
type StrategyConfig struct {
	Name        string            `yaml:"name"`
	WindowStart string            `yaml:"window_start"` // "HH:MM"
	WindowEnd   string            `yaml:"window_end"`   // "HH:MM", exclusive
	Symbols     []string          `yaml:"symbols"`
	Params      map[string]string `yaml:"params"`
}

// Notify configures the alert channel.
type Notify struct {
	DiscordWebhookURL string   `yaml:"discord_webhook_url"`
	HeartbeatTimes    []string `yaml:"heartbeat_times"` // "HH:MM" checkpoints
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it,
// applies .env and environment variable overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	// Secrets may live in a .env beside the binary; absence is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notify.DiscordWebhookURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/daybot.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Session.Timezone == "" {
		cfg.Session.Timezone = "America/New_York"
	}
	if cfg.Session.MarketOpen == "" {
		cfg.Session.MarketOpen = "09:30"
	}
	if cfg.Session.OpeningEnd == "" {
		cfg.Session.OpeningEnd = "10:00"
	}
	if cfg.Session.ClosingPrepStart == "" {
		cfg.Session.ClosingPrepStart = "15:30"
	}
	if cfg.Session.ClosingExecStart == "" {
		cfg.Session.ClosingExecStart = "15:50"
	}
	if cfg.Session.MarketClose == "" {
		cfg.Session.MarketClose = "16:00"
	}
	if cfg.Trading.TickInterval <= 0 {
		cfg.Trading.TickInterval = Duration(30 * time.Second)
	}
	if cfg.Trading.ReconcileInterval <= 0 {
		cfg.Trading.ReconcileInterval = Duration(5 * time.Second)
	}
	if cfg.Trading.SlippageBuffer <= 0 {
		cfg.Trading.SlippageBuffer = 0.05
	}
	if cfg.Trading.MaxPositionPct <= 0 {
		cfg.Trading.MaxPositionPct = 0.25
	}
	if cfg.Trading.PendingTimeout <= 0 {
		cfg.Trading.PendingTimeout = Duration(5 * time.Minute)
	}
	if cfg.Trading.ErrorBurstLimit <= 0 {
		cfg.Trading.ErrorBurstLimit = 5
	}
	if cfg.Trading.QuoteCacheTTL <= 0 {
		cfg.Trading.QuoteCacheTTL = Duration(10 * time.Second)
	}
	if cfg.Trading.RateLimitPerSec <= 0 {
		cfg.Trading.RateLimitPerSec = 10
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the config for fatal startup errors: unparsable times and
// overlapping strategy windows. Credentials are checked separately, because
// a sim run needs none.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return &domain.ConfigError{Detail: fmt.Sprintf("invalid timezone %q", c.Session.Timezone)}
	}

	bounds := []struct {
		name  string
		value string
	}{
		{"market_open", c.Session.MarketOpen},
		{"opening_end", c.Session.OpeningEnd},
		{"closing_prep_start", c.Session.ClosingPrepStart},
		{"closing_exec_start", c.Session.ClosingExecStart},
		{"market_close", c.Session.MarketClose},
	}
	prev := -1
	for _, b := range bounds {
		m, err := ParseMinutes(b.value)
		if err != nil {
			return &domain.ConfigError{Detail: fmt.Sprintf("session.%s: %v", b.name, err)}
		}
		if m <= prev {
			return &domain.ConfigError{Detail: fmt.Sprintf("session.%s (%s) is not after the previous boundary", b.name, b.value)}
		}
		prev = m
	}

	for _, h := range c.Session.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return &domain.ConfigError{Detail: fmt.Sprintf("invalid holiday date %q", h)}
		}
	}

	// Strategy windows must parse and must not overlap each other.
	type window struct {
		name       string
		start, end int
	}
	var windows []window
	for _, sc := range c.Strategies {
		if sc.Name == "" {
			return &domain.ConfigError{Detail: "strategy with empty name"}
		}
		start, err := ParseMinutes(sc.WindowStart)
		if err != nil {
			return &domain.ConfigError{Detail: fmt.Sprintf("strategy %s window_start: %v", sc.Name, err)}
		}
		end, err := ParseMinutes(sc.WindowEnd)
		if err != nil {
			return &domain.ConfigError{Detail: fmt.Sprintf("strategy %s window_end: %v", sc.Name, err)}
		}
		if end <= start {
			return &domain.ConfigError{Detail: fmt.Sprintf("strategy %s window is empty or inverted", sc.Name)}
		}
		for _, w := range windows {
			if start < w.end && w.start < end {
				return &domain.ConfigError{Detail: fmt.Sprintf("strategy windows overlap: %s and %s", w.name, sc.Name)}
			}
		}
		windows = append(windows, window{sc.Name, start, end})
	}

	for _, h := range c.Notify.HeartbeatTimes {
		if _, err := ParseMinutes(h); err != nil {
			return &domain.ConfigError{Detail: fmt.Sprintf("invalid heartbeat time %q", h)}
		}
	}

	return nil
}

// ValidateCredentials checks that broker credentials are present. Called
// before constructing the live broker; sim runs skip it.
func (c *Config) ValidateCredentials() error {
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		return &domain.ConfigError{Detail: "alpaca credentials missing (set APCA_API_KEY_ID / APCA_API_SECRET_KEY)"}
	}
	return nil
}

// ParseMinutes parses an "HH:MM" wall-clock string into minutes after
// midnight.
func ParseMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
