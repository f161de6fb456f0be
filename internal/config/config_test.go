package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "https://fapi.binance.com", cfg.Broker.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Broker.HTTPTimeout())
	assert.Equal(t, int64(1), cfg.Sim.Seed)
	assert.Equal(t, float64(100_000), cfg.Trading.ContractSize)
	assert.Equal(t, 2*time.Second, cfg.Trading.PollIntervalDuration())
	assert.Equal(t, time.Minute, cfg.Trading.StatusIntervalDuration())
	assert.Equal(t, float64(10_000), cfg.Risk.AccountEquity)
	assert.Equal(t, 5*time.Second, cfg.Risk.ShutdownTimeout())
	assert.Equal(t, "data/algotrader.db", cfg.Storage.DBPath)
}

func TestLoadExplicitValuesSurviveDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":9000"
sim:
  seed: 42
trading:
  poll_interval: 5m
risk:
  account_equity: 2500.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, int64(42), cfg.Sim.Seed)
	assert.Equal(t, 5*time.Minute, cfg.Trading.PollIntervalDuration())
	assert.Equal(t, 2500.5, cfg.Risk.AccountEquity)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "app:\n  log_level: verbose\n"},
		{"bad poll interval", "trading:\n  poll_interval: soon\n"},
		{"negative equity", "risk:\n  account_equity: -1\n"},
		{"key without secret", "broker:\n  api_key: abc\n"},
		{"spread band inverted", "sim:\n  min_spread_pips: 5\n  max_spread_pips: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCredentialsTogether(t *testing.T) {
	path := writeConfig(t, `
broker:
  api_key: key
  api_secret: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Broker.Live())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadPathFromEnv(t *testing.T) {
	path := writeConfig(t, "app:\n  env: test\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
}

func TestLoadEmptyPathWithoutEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	_, err := Load("")
	assert.Error(t, err)
}
