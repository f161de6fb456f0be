// Package engine runs trading strategies: one runtime goroutine per
// session, driven by a polling tick, with a registry enforcing at most one
// non-terminal session per strategy.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/snowdenHM/algo-trading/internal/broker"
)

// Strategy is the configuration a session runs under. It is snapshotted at
// session start: edits to the stored strategy never affect a running
// session.
type Strategy struct {
	ID     string
	Name   string
	Symbol string
	Side   broker.Side
	Kind   string // dispatch key, e.g. "martingale"

	InitialLotSize float64
	MaxLotSize     float64
	// LotMultiplier scales each recovery order; classic martingale is 2.
	LotMultiplier float64
	// RecoveryStepPips is the adverse move from the last fill that arms
	// the next recovery order.
	RecoveryStepPips float64
	TakeProfitPips   float64 // 0 disables
	StopLossPips     float64 // 0 disables
	PipSize          float64
	// ContractSize converts (price delta x lots) into account currency.
	ContractSize float64

	MaxTrades int
	// MaxDrawdown in account currency; > 0 required.
	MaxDrawdown float64
	// PerTradeRiskPct is percent of AccountEquity; 0 disables.
	PerTradeRiskPct float64
	AccountEquity   float64

	Interval time.Duration
}

// WithDefaults fills the optional fields a stored or submitted strategy
// may omit.
func (s Strategy) WithDefaults() Strategy {
	if s.Side == "" {
		s.Side = broker.SideBuy
	}
	if s.Kind == "" {
		s.Kind = "martingale"
	}
	if s.LotMultiplier <= 0 {
		s.LotMultiplier = 2
	}
	if s.PipSize <= 0 {
		s.PipSize = 0.0001
	}
	if s.ContractSize <= 0 {
		s.ContractSize = 100_000
	}
	if s.Interval <= 0 {
		s.Interval = 2 * time.Second
	}
	return s
}

// Validate enforces the configuration invariants before a session starts.
func (s Strategy) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("strategy %s: symbol is required", s.ID)
	}
	if s.Side != broker.SideBuy && s.Side != broker.SideSell {
		return fmt.Errorf("strategy %s: invalid side %q", s.ID, s.Side)
	}
	if s.InitialLotSize <= 0 {
		return fmt.Errorf("strategy %s: initial lot size must be positive", s.ID)
	}
	if s.InitialLotSize > s.MaxLotSize {
		return fmt.Errorf("strategy %s: initial lot %.2f exceeds max lot %.2f", s.ID, s.InitialLotSize, s.MaxLotSize)
	}
	if s.MaxDrawdown <= 0 {
		return fmt.Errorf("strategy %s: max drawdown must be positive", s.ID)
	}
	if s.MaxTrades <= 0 {
		return fmt.Errorf("strategy %s: max trades must be positive", s.ID)
	}
	if s.RecoveryStepPips <= 0 {
		return fmt.Errorf("strategy %s: recovery step must be positive", s.ID)
	}
	return nil
}

// TickView is the state a strategy kind decides on: the fresh quote plus
// the session's open trades, oldest first.
type TickView struct {
	Quote broker.Quote
	Open  []broker.ManagedTrade
}

// LastOpen returns the most recently opened trade in the view.
func (v TickView) LastOpen() (broker.ManagedTrade, bool) {
	if len(v.Open) == 0 {
		return broker.ManagedTrade{}, false
	}
	trades := make([]broker.ManagedTrade, len(v.Open))
	copy(trades, v.Open)
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].OpenTime.Equal(trades[j].OpenTime) {
			return trades[i].Ticket < trades[j].Ticket
		}
		return trades[i].OpenTime.Before(trades[j].OpenTime)
	})
	return trades[len(trades)-1], true
}

// Action is what a strategy kind wants the runtime to do this tick.
type Action struct {
	// Open requests an order; a zero Action is a hold.
	Open  bool
	Order broker.OrderRequest
	// Recovery marks the order as a martingale recovery; RecoveryLevel is
	// its depth (1 for the first recovery).
	Recovery      bool
	RecoveryLevel int
	// RetargetBasket asks the runtime to recompute shared protective
	// levels across all open trades after the fill.
	RetargetBasket bool
}

// Kind is one strategy algorithm. The runtime loop is generic over it: it
// supplies the tick view and executes whatever action comes back.
type Kind interface {
	Name() string
	ComputeNextAction(view TickView) Action
}

type kindFactory func(Strategy) Kind

var (
	kindsMu sync.RWMutex
	kinds   = map[string]kindFactory{}
)

// RegisterKind makes a strategy algorithm selectable by name.
func RegisterKind(name string, factory kindFactory) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[name] = factory
}

func newKind(s Strategy) (Kind, error) {
	kindsMu.RLock()
	factory, ok := kinds[s.Kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	return factory(s), nil
}
