package config

import (
	"strings"
	"time"

	"github.com/snowdenHM/algo-trading/internal/scheduler"
)

// Config is the process-wide configuration. It is loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	App     AppConfig     `toml:"app"`
	Broker  BrokerConfig  `toml:"broker"`
	Sim     SimConfig     `toml:"sim"`
	Trading TradingConfig `toml:"trading"`
	Risk    RiskConfig    `toml:"risk"`
	Storage StorageConfig `toml:"storage"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type BrokerConfig struct {
	APIKey                 string `toml:"api_key"`
	APISecret              string `toml:"api_secret"`
	BaseURL                string `toml:"base_url"`
	HTTPTimeoutSeconds     int    `toml:"http_timeout_seconds"`
	BreakerFailures        int    `toml:"breaker_failures"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

// Live reports whether API credentials are present. Without them the
// process runs against the simulated backend.
func (b BrokerConfig) Live() bool {
	return strings.TrimSpace(b.APIKey) != "" && strings.TrimSpace(b.APISecret) != ""
}

func (b BrokerConfig) HTTPTimeout() time.Duration {
	return time.Duration(b.HTTPTimeoutSeconds) * time.Second
}

func (b BrokerConfig) BreakerCooldown() time.Duration {
	return time.Duration(b.BreakerCooldownSeconds) * time.Second
}

type SimConfig struct {
	Seed          int64   `toml:"seed"`
	MinSpreadPips float64 `toml:"min_spread_pips"`
	MaxSpreadPips float64 `toml:"max_spread_pips"`
	MaxStepPips   float64 `toml:"max_step_pips"`
	MaxVolume     float64 `toml:"max_volume"`
}

type TradingConfig struct {
	ContractSize   float64 `toml:"contract_size"`
	PollInterval   string  `toml:"poll_interval"`   // "2s", "15m" style
	StatusInterval string  `toml:"status_interval"` // housekeeping summary period
}

// PollIntervalDuration returns the parsed poll interval. validate
// guarantees the string parses, so the fallback only covers a zero Config.
func (t TradingConfig) PollIntervalDuration() time.Duration {
	if d, ok := scheduler.ParseIntervalDuration(t.PollInterval); ok {
		return d
	}
	return 2 * time.Second
}

func (t TradingConfig) StatusIntervalDuration() time.Duration {
	if d, ok := scheduler.ParseIntervalDuration(t.StatusInterval); ok {
		return d
	}
	return time.Minute
}

type RiskConfig struct {
	AccountEquity          float64 `toml:"account_equity"`
	ShutdownTimeoutSeconds int     `toml:"shutdown_timeout_seconds"`
}

func (r RiskConfig) ShutdownTimeout() time.Duration {
	return time.Duration(r.ShutdownTimeoutSeconds) * time.Second
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// keySet tracks the field paths explicitly set in the config file, so
// defaults never override a deliberate zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the defaulting rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
