package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/snowdenHM/algo-trading/internal/broker"
)

// fakeBroker is a scripted backend for runtime tests: the test sets the
// quote explicitly, so price moves are exact instead of random-walked.
type fakeBroker struct {
	mu sync.Mutex

	quote    broker.Quote
	quoteErr error
	// quoteErrBudget > 0 limits quoteErr to that many calls
	quoteErrBudget int

	open    map[string]*broker.ManagedTrade
	history []broker.ManagedTrade
	next    int

	placed       []broker.OrderRequest
	rejectOrders bool

	// quoteGate, when set, blocks Quote until released (shutdown tests)
	quoteGate chan struct{}
}

var _ broker.Broker = (*fakeBroker)(nil)

func newFakeBroker(bid, ask float64) *fakeBroker {
	return &fakeBroker{
		quote: broker.Quote{Symbol: "EURUSD", Bid: bid, Ask: ask, Timestamp: time.Now()},
		open:  make(map[string]*broker.ManagedTrade),
	}
}

func (f *fakeBroker) setQuote(bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quote = broker.Quote{Symbol: "EURUSD", Bid: bid, Ask: ask, Timestamp: time.Now()}
}

func (f *fakeBroker) setQuoteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteErr = err
	f.quoteErrBudget = 0
}

// failQuotes makes exactly n Quote calls fail with err, then recover.
func (f *fakeBroker) failQuotes(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteErr = err
	f.quoteErrBudget = n
}

func (f *fakeBroker) setReject(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectOrders = reject
}

func (f *fakeBroker) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func (f *fakeBroker) placedOrders() []broker.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broker.OrderRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

func (f *fakeBroker) Connect(ctx context.Context, _ broker.Credentials) (broker.ConnectionState, error) {
	return broker.StateConnected, nil
}

func (f *fakeBroker) Disconnect() error { return nil }

func (f *fakeBroker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	f.mu.Lock()
	gate := f.quoteGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		err := f.quoteErr
		if f.quoteErrBudget > 0 {
			f.quoteErrBudget--
			if f.quoteErrBudget == 0 {
				f.quoteErr = nil
			}
		}
		return broker.Quote{}, err
	}
	return f.quote, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.ManagedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectOrders {
		return broker.ManagedTrade{}, broker.OrderRejected("scripted rejection")
	}
	fill := f.quote.Ask
	if req.Side == broker.SideSell {
		fill = f.quote.Bid
	}
	f.next++
	f.placed = append(f.placed, req)
	trade := broker.ManagedTrade{
		Ticket:     fmt.Sprintf("FAKE-%03d", f.next),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     broker.TradeOpen,
		OpenTime:   time.Now(),
	}
	f.open[trade.Ticket] = &trade
	return trade, nil
}

func (f *fakeBroker) ListOpenPositions(ctx context.Context) ([]broker.ManagedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tickets := make([]string, 0, len(f.open))
	for t := range f.open {
		tickets = append(tickets, t)
	}
	sort.Strings(tickets)
	out := make([]broker.ManagedTrade, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, *f.open[t])
	}
	return out, nil
}

func (f *fakeBroker) ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit float64) (broker.ManagedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.open[ticket]
	if !ok {
		return broker.ManagedTrade{}, broker.PositionNotFound(ticket)
	}
	t.StopLoss = stopLoss
	t.TakeProfit = takeProfit
	return *t, nil
}

func (f *fakeBroker) ClosePosition(ctx context.Context, ticket string) (broker.ManagedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.open[ticket]; ok {
		exit := f.quote.Bid
		if t.Side == broker.SideSell {
			exit = f.quote.Ask
		}
		pnl := (exit - t.OpenPrice) * t.Volume * 100_000
		if t.Side == broker.SideSell {
			pnl = -pnl
		}
		now := time.Now()
		t.Status = broker.TradeClosed
		t.ClosePrice = exit
		t.CloseTime = &now
		t.ProfitLoss = &pnl
		delete(f.open, ticket)
		f.history = append(f.history, *t)
		return *t, nil
	}
	for i := len(f.history) - 1; i >= 0; i-- {
		if f.history[i].Ticket == ticket {
			return f.history[i], nil
		}
	}
	return broker.ManagedTrade{}, broker.PositionNotFound(ticket)
}

func (f *fakeBroker) CloseAll(ctx context.Context) (int, error) {
	f.mu.Lock()
	tickets := make([]string, 0, len(f.open))
	for t := range f.open {
		tickets = append(tickets, t)
	}
	f.mu.Unlock()
	sort.Strings(tickets)
	for _, t := range tickets {
		_, _ = f.ClosePosition(ctx, t)
	}
	return len(tickets), nil
}

func (f *fakeBroker) TradeHistory(ctx context.Context, limit int) ([]broker.ManagedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.history) {
		limit = len(f.history)
	}
	out := make([]broker.ManagedTrade, 0, limit)
	for i := len(f.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.history[i])
	}
	return out, nil
}
