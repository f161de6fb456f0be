// Package app is the composition root: it builds the store, broker,
// session registry and HTTP server from config and runs them until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/snowdenHM/algo-trading/internal/broker"
	"github.com/snowdenHM/algo-trading/internal/broker/binance"
	"github.com/snowdenHM/algo-trading/internal/broker/sim"
	"github.com/snowdenHM/algo-trading/internal/config"
	"github.com/snowdenHM/algo-trading/internal/engine"
	"github.com/snowdenHM/algo-trading/internal/logger"
	"github.com/snowdenHM/algo-trading/internal/scheduler"
	"github.com/snowdenHM/algo-trading/internal/store"
	"github.com/snowdenHM/algo-trading/internal/store/gormstore"
	apihttp "github.com/snowdenHM/algo-trading/internal/transport/http"
)

type App struct {
	cfg      *config.Config
	st       store.Store
	brk      broker.Broker
	registry *engine.Registry
	httpSrv  *apihttp.Server
	creds    broker.Credentials
}

// NewApp wires the application from cfg. Nothing is connected or listening
// until Run.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := gormstore.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store failed: %w", err)
	}

	brk, creds := buildBroker(cfg)

	registry := engine.NewRegistry(brk, st, engine.Options{
		ShutdownTimeout: cfg.Risk.ShutdownTimeout(),
		AccountEquity:   cfg.Risk.AccountEquity,
		ContractSize:    cfg.Trading.ContractSize,
		DefaultInterval: cfg.Trading.PollIntervalDuration(),
	})

	httpSrv, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Registry: registry,
		Broker:   brk,
		Store:    st,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("building http server failed: %w", err)
	}

	return &App{
		cfg:      cfg,
		st:       st,
		brk:      brk,
		registry: registry,
		httpSrv:  httpSrv,
		creds:    creds,
	}, nil
}

// buildBroker picks the live backend when credentials are configured and
// the deterministic simulated one otherwise. Either way the handle is
// wrapped so mutating calls are serialized across sessions.
func buildBroker(cfg *config.Config) (broker.Broker, broker.Credentials) {
	if cfg.Broker.Live() {
		logger.Infof("broker: live backend (%s)", cfg.Broker.BaseURL)
		b := binance.New(binance.Config{
			RESTBaseURL:         cfg.Broker.BaseURL,
			HTTPTimeout:         cfg.Broker.HTTPTimeout(),
			ConsecutiveFailures: cfg.Broker.BreakerFailures,
			TripTimeout:         cfg.Broker.BreakerCooldown(),
		})
		creds := broker.Credentials{
			APIKey:    cfg.Broker.APIKey,
			APISecret: cfg.Broker.APISecret,
			BaseURL:   cfg.Broker.BaseURL,
		}
		return broker.Serialize(b), creds
	}
	logger.Infof("broker: simulated backend (seed=%d)", cfg.Sim.Seed)
	b := sim.New(sim.Config{
		Seed: cfg.Sim.Seed,
		Spread: sim.SpreadBand{
			MinSpreadPips: cfg.Sim.MinSpreadPips,
			MaxSpreadPips: cfg.Sim.MaxSpreadPips,
			MaxStepPips:   cfg.Sim.MaxStepPips,
		},
		ContractSize: cfg.Trading.ContractSize,
		MaxVolume:    cfg.Sim.MaxVolume,
	})
	return broker.Serialize(b), broker.Credentials{}
}

// Run connects the broker and blocks serving until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.st.Close(); err != nil {
			logger.Warnf("closing store: %v", err)
		}
	}()

	if _, err := a.brk.Connect(ctx, a.creds); err != nil {
		return fmt.Errorf("broker connect failed: %w", err)
	}
	defer func() {
		if err := a.brk.Disconnect(); err != nil {
			logger.Warnf("broker disconnect: %v", err)
		}
	}()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		status := scheduler.NewIntervalScheduler(a.cfg.Trading.StatusIntervalDuration())
		status.Start(ctx, a.logSessionSummary)
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Risk.ShutdownTimeout())
		defer cancel()
		if err := a.registry.Shutdown(shCtx); err != nil {
			logger.Warnf("registry shutdown: %v", err)
		}
		return nil
	})

	logger.Infof("algotrader up: http=%s db=%s", a.cfg.App.HTTPAddr, filepath.Clean(a.cfg.Storage.DBPath))
	return group.Wait()
}

// Registry exposes the session registry (for test harnesses).
func (a *App) Registry() *engine.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *App) logSessionSummary() {
	sessions := a.registry.ListSessions("")
	if len(sessions) == 0 {
		return
	}
	counts := make(map[string]int)
	for _, s := range sessions {
		counts[string(s.Status)]++
	}
	parts := make([]string, 0, len(counts))
	for status, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", status, n))
	}
	sort.Strings(parts)
	logger.Infof("sessions: %s", strings.Join(parts, " "))
}
