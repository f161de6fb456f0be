package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snowdenHM/algo-trading/internal/broker"
	"github.com/snowdenHM/algo-trading/internal/logger"
	"github.com/snowdenHM/algo-trading/internal/store"
)

var (
	// ErrAlreadyActive is returned when the strategy already has a
	// non-terminal session.
	ErrAlreadyActive = errors.New("strategy already has an active session")
	// ErrShutdownTimeout means the runtime did not confirm the stop in
	// time; the loop keeps winding down in the background.
	ErrShutdownTimeout  = errors.New("session did not confirm shutdown in time")
	ErrSessionNotFound  = errors.New("session not found")
	ErrStrategyNotFound = errors.New("strategy not found")
)

// Options tune the registry and the sessions it spawns.
type Options struct {
	// ShutdownTimeout bounds how long StopSession waits for the runtime.
	ShutdownTimeout time.Duration
	// AccountEquity feeds the per-trade-risk rule; 0 disables it.
	AccountEquity float64
	// ContractSize converts price deltas to account currency.
	ContractSize float64
	// DefaultInterval applies to strategies without their own interval.
	DefaultInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 5 * time.Second
	}
	if o.ContractSize <= 0 {
		o.ContractSize = 100_000
	}
	if o.DefaultInterval <= 0 {
		o.DefaultInterval = 2 * time.Second
	}
	return o
}

// Registry tracks every session the process has started and enforces at
// most one non-terminal session per strategy.
type Registry struct {
	brk  broker.Broker
	st   store.Store
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	byID       map[string]*runtime
	byStrategy map[string]*runtime
}

// NewRegistry builds a registry over the shared broker handle. All
// runtimes it spawns run under the registry's own context, cancelled by
// Shutdown.
func NewRegistry(brk broker.Broker, st store.Store, opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		brk:        brk,
		st:         st,
		opts:       opts.withDefaults(),
		ctx:        ctx,
		cancel:     cancel,
		byID:       make(map[string]*runtime),
		byStrategy: make(map[string]*runtime),
	}
}

// StartSession loads the strategy, validates it and spawns its runtime.
func (r *Registry) StartSession(ctx context.Context, strategyID, name string) (Snapshot, error) {
	strat, err := r.loadStrategy(ctx, strategyID)
	if err != nil {
		return Snapshot{}, err
	}
	kind, err := newKind(strat)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byStrategy[strategyID]; ok {
		if !existing.session.Snapshot().Status.Terminal() {
			return Snapshot{}, fmt.Errorf("%w: strategy %s", ErrAlreadyActive, strategyID)
		}
	}

	id := uuid.NewString()
	if name == "" {
		name = fmt.Sprintf("%s-%s", strat.Name, id[:8])
	}
	session := newSession(id, strategyID, name, strat.Symbol)
	rt := newRuntime(session, strat, kind, r.brk, r.st)
	r.byID[id] = rt
	r.byStrategy[strategyID] = rt

	logger.Infof("registry: session %s started for strategy %s (%s)", id, strategyID, strat.Symbol)
	go rt.run(r.ctx)
	return session.Snapshot(), nil
}

// StopSession signals the runtime and waits, bounded, for it to reach a
// terminal state. On timeout the caller is informed but the loop keeps
// running its wind-down in the background.
func (r *Registry) StopSession(ctx context.Context, sessionID string, closePositions bool) (Snapshot, error) {
	r.mu.Lock()
	rt, ok := r.byID[sessionID]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	snap := rt.session.Snapshot()
	if snap.Status.Terminal() {
		return snap, nil
	}

	select {
	case rt.stopCh <- stopRequest{closePositions: closePositions}:
	default:
		// a stop is already queued
	}

	select {
	case <-rt.done:
		return rt.session.Snapshot(), nil
	case <-time.After(r.opts.ShutdownTimeout):
		return rt.session.Snapshot(), fmt.Errorf("%w: %s", ErrShutdownTimeout, sessionID)
	case <-ctx.Done():
		return rt.session.Snapshot(), ctx.Err()
	}
}

// GetStatus returns the session snapshot, falling back to the store for
// sessions from earlier process runs.
func (r *Registry) GetStatus(ctx context.Context, sessionID string) (Snapshot, error) {
	r.mu.Lock()
	rt, ok := r.byID[sessionID]
	r.mu.Unlock()
	if ok {
		return rt.session.Snapshot(), nil
	}
	if r.st != nil {
		rec, found, err := r.st.GetSession(ctx, sessionID)
		if err != nil {
			return Snapshot{}, err
		}
		if found {
			return snapshotFromRecord(rec), nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

// ListSessions returns snapshots of this process's sessions, newest
// first, optionally filtered by strategy.
func (r *Registry) ListSessions(strategyID string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.byID))
	for _, rt := range r.byID {
		snap := rt.session.Snapshot()
		if strategyID != "" && snap.StrategyID != strategyID {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Shutdown stops every live session gracefully, bounded by the configured
// timeout per the whole batch.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	running := make([]*runtime, 0, len(r.byID))
	for _, rt := range r.byID {
		if !rt.session.Snapshot().Status.Terminal() {
			running = append(running, rt)
		}
	}
	r.mu.Unlock()

	for _, rt := range running {
		select {
		case rt.stopCh <- stopRequest{}:
		default:
		}
	}

	deadline := time.After(r.opts.ShutdownTimeout)
	for _, rt := range running {
		select {
		case <-rt.done:
		case <-deadline:
			r.cancel()
			return fmt.Errorf("%w: process shutdown", ErrShutdownTimeout)
		case <-ctx.Done():
			r.cancel()
			return ctx.Err()
		}
	}
	r.cancel()
	return nil
}

func (r *Registry) loadStrategy(ctx context.Context, strategyID string) (Strategy, error) {
	if r.st == nil {
		return Strategy{}, fmt.Errorf("%w: no strategy store", ErrStrategyNotFound)
	}
	rec, ok, err := r.st.GetStrategy(ctx, strategyID)
	if err != nil {
		return Strategy{}, err
	}
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %s", ErrStrategyNotFound, strategyID)
	}
	strat := StrategyFromRecord(rec)
	if strat.Interval <= 0 {
		strat.Interval = r.opts.DefaultInterval
	}
	strat.AccountEquity = r.opts.AccountEquity
	strat.ContractSize = r.opts.ContractSize
	strat = strat.WithDefaults()
	if err := strat.Validate(); err != nil {
		return Strategy{}, err
	}
	return strat, nil
}

// StrategyFromRecord converts a stored strategy into the runtime config.
func StrategyFromRecord(rec store.StrategyRecord) Strategy {
	return Strategy{
		ID:               rec.ID,
		Name:             rec.Name,
		Symbol:           rec.Symbol,
		Side:             broker.Side(rec.Side),
		Kind:             rec.Kind,
		InitialLotSize:   rec.InitialLotSize,
		MaxLotSize:       rec.MaxLotSize,
		LotMultiplier:    rec.LotMultiplier,
		RecoveryStepPips: rec.RecoveryStep,
		TakeProfitPips:   rec.TakeProfit,
		StopLossPips:     rec.StopLoss,
		PipSize:          rec.PipSize,
		MaxTrades:        rec.MaxTrades,
		MaxDrawdown:      rec.MaxDrawdown,
		PerTradeRiskPct:  rec.PerTradeRisk,
		Interval:         rec.Interval,
	}
}

func snapshotFromRecord(rec store.SessionRecord) Snapshot {
	return Snapshot{
		ID:            rec.ID,
		StrategyID:    rec.StrategyID,
		Name:          rec.Name,
		Symbol:        rec.Symbol,
		Status:        Status(rec.Status),
		StopReason:    rec.StopReason,
		StartedAt:     rec.StartedAt,
		StoppedAt:     rec.StoppedAt,
		TotalTrades:   rec.TradesClosed,
		WinningTrades: rec.WinningTrades,
		RecoveryDepth: rec.RecoveryDepth,
		RealizedPnL:   rec.RealizedPnL,
	}
}
