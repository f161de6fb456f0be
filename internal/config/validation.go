package config

import (
	"fmt"
	"strings"

	"github.com/snowdenHM/algo-trading/internal/scheduler"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Sim.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	key := strings.TrimSpace(b.APIKey) != ""
	secret := strings.TrimSpace(b.APISecret) != ""
	if key != secret {
		return fmt.Errorf("broker.api_key and broker.api_secret must be set together")
	}
	if b.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("broker.http_timeout_seconds must be > 0")
	}
	if b.BreakerFailures <= 0 {
		return fmt.Errorf("broker.breaker_failures must be > 0")
	}
	if b.BreakerCooldownSeconds <= 0 {
		return fmt.Errorf("broker.breaker_cooldown_seconds must be > 0")
	}
	return nil
}

func (s *SimConfig) validate() error {
	if s.MinSpreadPips <= 0 {
		return fmt.Errorf("sim.min_spread_pips must be > 0")
	}
	if s.MaxSpreadPips < s.MinSpreadPips {
		return fmt.Errorf("sim.max_spread_pips must be >= sim.min_spread_pips")
	}
	if s.MaxStepPips <= 0 {
		return fmt.Errorf("sim.max_step_pips must be > 0")
	}
	if s.MaxVolume <= 0 {
		return fmt.Errorf("sim.max_volume must be > 0")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.ContractSize <= 0 {
		return fmt.Errorf("trading.contract_size must be > 0")
	}
	if _, ok := scheduler.ParseIntervalDuration(t.PollInterval); !ok {
		return fmt.Errorf("trading.poll_interval is not a valid interval: %q", t.PollInterval)
	}
	if _, ok := scheduler.ParseIntervalDuration(t.StatusInterval); !ok {
		return fmt.Errorf("trading.status_interval is not a valid interval: %q", t.StatusInterval)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.AccountEquity <= 0 {
		return fmt.Errorf("risk.account_equity must be > 0")
	}
	if r.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("risk.shutdown_timeout_seconds must be > 0")
	}
	return nil
}

func (s *StorageConfig) validate() error {
	if strings.TrimSpace(s.DBPath) == "" {
		return fmt.Errorf("storage.db_path cannot be empty")
	}
	return nil
}
