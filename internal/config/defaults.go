package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":8080"

	defaultBrokerBaseURL         = "https://fapi.binance.com"
	defaultBrokerHTTPTimeout     = 10
	defaultBrokerBreakerFailures = 3
	defaultBrokerBreakerCooldown = 30

	defaultSimSeed          = 1
	defaultSimMinSpreadPips = 1
	defaultSimMaxSpreadPips = 3
	defaultSimMaxStepPips   = 8
	defaultSimMaxVolume     = 100

	defaultTradingContractSize   = 100_000
	defaultTradingPollInterval   = "2s"
	defaultTradingStatusInterval = "1m"

	defaultRiskAccountEquity   = 10_000
	defaultRiskShutdownTimeout = 5

	defaultStorageDBPath = "data/algotrader.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Sim.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		// app.log_path has no default: empty means log to stdout
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.base_url", &b.BaseURL, defaultBrokerBaseURL),
		fieldDefault{
			key:   "broker.http_timeout_seconds",
			need:  func() bool { return b.HTTPTimeoutSeconds <= 0 },
			apply: func() { b.HTTPTimeoutSeconds = defaultBrokerHTTPTimeout },
		},
		fieldDefault{
			key:   "broker.breaker_failures",
			need:  func() bool { return b.BreakerFailures <= 0 },
			apply: func() { b.BreakerFailures = defaultBrokerBreakerFailures },
		},
		fieldDefault{
			key:   "broker.breaker_cooldown_seconds",
			need:  func() bool { return b.BreakerCooldownSeconds <= 0 },
			apply: func() { b.BreakerCooldownSeconds = defaultBrokerBreakerCooldown },
		},
	)
}

func (s *SimConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sim.seed",
			need:  func() bool { return s.Seed == 0 },
			apply: func() { s.Seed = defaultSimSeed },
		},
		fieldDefault{
			key:   "sim.min_spread_pips",
			need:  func() bool { return s.MinSpreadPips <= 0 },
			apply: func() { s.MinSpreadPips = defaultSimMinSpreadPips },
		},
		fieldDefault{
			key:   "sim.max_spread_pips",
			need:  func() bool { return s.MaxSpreadPips <= 0 },
			apply: func() { s.MaxSpreadPips = defaultSimMaxSpreadPips },
		},
		fieldDefault{
			key:   "sim.max_step_pips",
			need:  func() bool { return s.MaxStepPips <= 0 },
			apply: func() { s.MaxStepPips = defaultSimMaxStepPips },
		},
		fieldDefault{
			key:   "sim.max_volume",
			need:  func() bool { return s.MaxVolume <= 0 },
			apply: func() { s.MaxVolume = defaultSimMaxVolume },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.contract_size",
			need:  func() bool { return t.ContractSize <= 0 },
			apply: func() { t.ContractSize = defaultTradingContractSize },
		},
		stringFieldDefault("trading.poll_interval", &t.PollInterval, defaultTradingPollInterval),
		stringFieldDefault("trading.status_interval", &t.StatusInterval, defaultTradingStatusInterval),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.account_equity",
			need:  func() bool { return r.AccountEquity <= 0 },
			apply: func() { r.AccountEquity = defaultRiskAccountEquity },
		},
		fieldDefault{
			key:   "risk.shutdown_timeout_seconds",
			need:  func() bool { return r.ShutdownTimeoutSeconds <= 0 },
			apply: func() { r.ShutdownTimeoutSeconds = defaultRiskShutdownTimeout },
		},
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.db_path", &s.DBPath, defaultStorageDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
