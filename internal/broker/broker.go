// Package broker defines a common abstraction for trading backends.
// The strategy runtime is written against this interface only, so live
// and simulated backends stay interchangeable at process start.
package broker

import (
	"context"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the closing direction for a position.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeStatus tracks the lifecycle of a ManagedTrade.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

// ConnectionState reports whether the broker session is usable.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
)

// Credentials authenticate a live broker session. The simulated backend
// ignores them.
type Credentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// Quote is an ephemeral price snapshot. It is never persisted; the runtime
// reads a fresh one on every decision cycle.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Spread returns ask minus bid.
func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// ManagedTrade is a broker-side position owned by exactly one session.
// Only the owning runtime mutates it after creation.
type ManagedTrade struct {
	Ticket     string
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	ClosePrice float64
	StopLoss   float64
	TakeProfit float64
	Status     TradeStatus
	OpenTime   time.Time
	CloseTime  *time.Time
	// ProfitLoss is nil until the trade closes.
	ProfitLoss *float64
}

// IsOpen reports whether the broker still holds the position.
func (t ManagedTrade) IsOpen() bool { return t.Status == TradeOpen }

// OrderRequest describes a simple market order. StopLoss/TakeProfit are
// absolute prices; zero means not set.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Volume     float64
	StopLoss   float64
	TakeProfit float64
}

// Broker is the capability set the strategy runtime drives. Implementations:
// binance.Broker (live) and sim.Broker (deterministic, for tests and
// credential-less runs).
type Broker interface {
	// Connect establishes or simulates a broker session. The simulated
	// backend never fails this call.
	Connect(ctx context.Context, creds Credentials) (ConnectionState, error)

	// Disconnect is idempotent and releases held resources.
	Disconnect() error

	// Quote returns a fresh price snapshot for symbol.
	Quote(ctx context.Context, symbol string) (Quote, error)

	// PlaceOrder submits a market order and returns the opened position.
	PlaceOrder(ctx context.Context, req OrderRequest) (ManagedTrade, error)

	// ListOpenPositions returns a read-only snapshot of open positions.
	ListOpenPositions(ctx context.Context) ([]ManagedTrade, error)

	// ModifyPosition replaces the protective levels on an open position.
	// Zero removes the level. Fails with a PositionNotFound error when the
	// ticket is unknown or already closed.
	ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit float64) (ManagedTrade, error)

	// ClosePosition closes the position identified by ticket. Closing an
	// already-closed ticket returns the last known closed state.
	ClosePosition(ctx context.Context, ticket string) (ManagedTrade, error)

	// CloseAll closes every open position best-effort and returns the
	// number actually closed. Individual failures are collected, not fatal.
	CloseAll(ctx context.Context) (int, error)

	// TradeHistory returns up to limit closed trades, most recent first.
	TradeHistory(ctx context.Context, limit int) ([]ManagedTrade, error)
}
