package broker

import (
	"context"
	"sync"
)

// guarded serializes mutating calls on a shared broker connection. All
// sessions submit orders through one logical connection; interleaved
// submissions are a race on the broker side, so PlaceOrder, ClosePosition,
// ModifyPosition and CloseAll take a mutex. Read paths (Quote,
// ListOpenPositions, TradeHistory) pass through untouched and may run
// concurrently.
type guarded struct {
	inner Broker
	mu    sync.Mutex
}

// Serialize wraps b so that mutating operations run one at a time.
// Connect/Disconnect are also serialized; they share connection state
// with order submission.
func Serialize(b Broker) Broker {
	if b == nil {
		return nil
	}
	if _, ok := b.(*guarded); ok {
		return b
	}
	return &guarded{inner: b}
}

func (g *guarded) Connect(ctx context.Context, creds Credentials) (ConnectionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Connect(ctx, creds)
}

func (g *guarded) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Disconnect()
}

func (g *guarded) Quote(ctx context.Context, symbol string) (Quote, error) {
	return g.inner.Quote(ctx, symbol)
}

func (g *guarded) PlaceOrder(ctx context.Context, req OrderRequest) (ManagedTrade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.PlaceOrder(ctx, req)
}

func (g *guarded) ListOpenPositions(ctx context.Context) ([]ManagedTrade, error) {
	return g.inner.ListOpenPositions(ctx)
}

func (g *guarded) ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit float64) (ManagedTrade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.ModifyPosition(ctx, ticket, stopLoss, takeProfit)
}

func (g *guarded) ClosePosition(ctx context.Context, ticket string) (ManagedTrade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.ClosePosition(ctx, ticket)
}

func (g *guarded) CloseAll(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.CloseAll(ctx)
}

func (g *guarded) TradeHistory(ctx context.Context, limit int) ([]ManagedTrade, error) {
	return g.inner.TradeHistory(ctx, limit)
}
