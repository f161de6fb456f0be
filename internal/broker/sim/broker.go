// Package sim implements a deterministic simulated broker backend. It is
// selected when no live credentials are configured and is the backend the
// engine tests run against: a fixed seed reproduces the full quote and
// fill sequence.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/snowdenHM/algo-trading/internal/broker"
	"github.com/snowdenHM/algo-trading/internal/logger"
)

// SymbolSpec seeds the random walk for one symbol.
type SymbolSpec struct {
	Mid        float64
	PipSize    float64
	DriftBound float64 // max relative drift from Mid, e.g. 0.05
}

// SpreadBand bounds the synthesized spread and per-quote step.
type SpreadBand struct {
	MinSpreadPips float64
	MaxSpreadPips float64
	MaxStepPips   float64
}

// Config controls the simulated backend.
type Config struct {
	Seed         int64
	Symbols      map[string]SymbolSpec
	Spread       SpreadBand
	ContractSize float64 // currency units per 1.0 lot
	MaxVolume    float64 // order rejection threshold
}

func (c Config) withDefaults() Config {
	if c.Seed == 0 {
		c.Seed = 1
	}
	if len(c.Symbols) == 0 {
		c.Symbols = DefaultSymbols()
	}
	if c.Spread.MinSpreadPips <= 0 {
		c.Spread.MinSpreadPips = 1
	}
	if c.Spread.MaxSpreadPips <= c.Spread.MinSpreadPips {
		c.Spread.MaxSpreadPips = c.Spread.MinSpreadPips + 2
	}
	if c.Spread.MaxStepPips <= 0 {
		c.Spread.MaxStepPips = 8
	}
	if c.ContractSize <= 0 {
		c.ContractSize = 100_000
	}
	if c.MaxVolume <= 0 {
		c.MaxVolume = 100
	}
	return c
}

// DefaultSymbols covers the majors the original desk traded.
func DefaultSymbols() map[string]SymbolSpec {
	return map[string]SymbolSpec{
		"EURUSD": {Mid: 1.0850, PipSize: 0.0001, DriftBound: 0.05},
		"GBPUSD": {Mid: 1.2650, PipSize: 0.0001, DriftBound: 0.05},
		"AUDUSD": {Mid: 0.6720, PipSize: 0.0001, DriftBound: 0.05},
		"NZDUSD": {Mid: 0.6120, PipSize: 0.0001, DriftBound: 0.05},
		"USDCAD": {Mid: 1.3580, PipSize: 0.0001, DriftBound: 0.05},
		"USDCHF": {Mid: 0.8950, PipSize: 0.0001, DriftBound: 0.05},
		"USDJPY": {Mid: 149.50, PipSize: 0.01, DriftBound: 0.05},
	}
}

// Broker is the simulated backend. All state lives behind one mutex; the
// call rates here are a few per second per session, nowhere near contention.
type Broker struct {
	cfg Config

	mu         sync.Mutex
	connected  bool
	walks      map[string]*walk
	open       map[string]*broker.ManagedTrade
	history    []broker.ManagedTrade // closed trades, oldest first
	nextTicket int64
	now        func() time.Time
}

var _ broker.Broker = (*Broker)(nil)

// New builds a simulated broker from cfg.
func New(cfg Config) *Broker {
	final := cfg.withDefaults()
	return &Broker{
		cfg:   final,
		walks: make(map[string]*walk, len(final.Symbols)),
		open:  make(map[string]*broker.ManagedTrade),
		now:   time.Now,
	}
}

// Connect never fails for the simulated backend.
func (b *Broker) Connect(ctx context.Context, _ broker.Credentials) (broker.ConnectionState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return broker.StateConnected, nil
}

// Disconnect is idempotent.
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// Quote advances the symbol's random walk and returns the fresh snapshot.
// Before returning it sweeps all open simulated positions against their
// stop/take levels, closing any that the new price breaches at the trigger
// price itself (not the current price), the way a broker-side stop fills.
func (b *Broker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.Quote{}, broker.ConnectionFailed(errNotConnected)
	}
	w, err := b.walkFor(symbol)
	if err != nil {
		return broker.Quote{}, err
	}
	bid, ask := w.advance()
	b.sweepTriggers(symbol, bid, ask)
	return broker.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: b.now()}, nil
}

// PlaceOrder fills a market order at the current walk price.
func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.ManagedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.ManagedTrade{}, broker.ConnectionFailed(errNotConnected)
	}
	if req.Volume <= 0 {
		return broker.ManagedTrade{}, broker.OrderRejected(fmt.Sprintf("invalid volume %.4f", req.Volume))
	}
	if req.Volume > b.cfg.MaxVolume {
		return broker.ManagedTrade{}, broker.OrderRejected(fmt.Sprintf("volume %.4f exceeds limit %.4f", req.Volume, b.cfg.MaxVolume))
	}
	if req.Side != broker.SideBuy && req.Side != broker.SideSell {
		return broker.ManagedTrade{}, broker.OrderRejected(fmt.Sprintf("invalid side %q", req.Side))
	}
	w, err := b.walkFor(req.Symbol)
	if err != nil {
		return broker.ManagedTrade{}, broker.OrderRejected(fmt.Sprintf("unknown symbol %s", req.Symbol))
	}
	bid, ask := w.current()
	fill := ask
	if req.Side == broker.SideSell {
		fill = bid
	}
	b.nextTicket++
	trade := broker.ManagedTrade{
		Ticket:     fmt.Sprintf("SIM-%06d", b.nextTicket),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     broker.TradeOpen,
		OpenTime:   b.now(),
	}
	b.open[trade.Ticket] = &trade
	logger.Debugf("sim: filled %s %s %.2f %s @ %.5f", trade.Ticket, req.Side, req.Volume, req.Symbol, fill)
	return trade, nil
}

// ListOpenPositions returns copies of the open positions, oldest first.
func (b *Broker) ListOpenPositions(ctx context.Context) ([]broker.ManagedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, broker.ConnectionFailed(errNotConnected)
	}
	out := make([]broker.ManagedTrade, 0, len(b.open))
	for _, t := range b.open {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// ModifyPosition replaces the protective levels on an open position. The
// new levels take effect on the next Quote sweep.
func (b *Broker) ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit float64) (broker.ManagedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.ManagedTrade{}, broker.ConnectionFailed(errNotConnected)
	}
	t, ok := b.open[ticket]
	if !ok {
		return broker.ManagedTrade{}, broker.PositionNotFound(ticket)
	}
	t.StopLoss = stopLoss
	t.TakeProfit = takeProfit
	return *t, nil
}

// ClosePosition closes the ticket at the current walk price. Closing an
// already-closed ticket returns its final state again with no second P&L
// attribution.
func (b *Broker) ClosePosition(ctx context.Context, ticket string) (broker.ManagedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.ManagedTrade{}, broker.ConnectionFailed(errNotConnected)
	}
	if t, ok := b.open[ticket]; ok {
		w, err := b.walkFor(t.Symbol)
		if err != nil {
			return broker.ManagedTrade{}, err
		}
		bid, ask := w.current()
		exit := bid
		if t.Side == broker.SideSell {
			exit = ask
		}
		return b.closeAt(t, exit), nil
	}
	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].Ticket == ticket {
			return b.history[i], nil
		}
	}
	return broker.ManagedTrade{}, broker.PositionNotFound(ticket)
}

// CloseAll closes every open position, best-effort.
func (b *Broker) CloseAll(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return 0, broker.ConnectionFailed(errNotConnected)
	}
	tickets := make([]string, 0, len(b.open))
	for ticket := range b.open {
		tickets = append(tickets, ticket)
	}
	sort.Strings(tickets)
	closed := 0
	for _, ticket := range tickets {
		t := b.open[ticket]
		w, err := b.walkFor(t.Symbol)
		if err != nil {
			continue
		}
		bid, ask := w.current()
		exit := bid
		if t.Side == broker.SideSell {
			exit = ask
		}
		b.closeAt(t, exit)
		closed++
	}
	return closed, nil
}

// TradeHistory returns up to limit closed trades, most recent first.
func (b *Broker) TradeHistory(ctx context.Context, limit int) ([]broker.ManagedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, broker.ConnectionFailed(errNotConnected)
	}
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]broker.ManagedTrade, 0, limit)
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.history[i])
	}
	return out, nil
}

// walkFor lazily creates the per-symbol walk. Caller holds b.mu.
func (b *Broker) walkFor(symbol string) (*walk, error) {
	if w, ok := b.walks[symbol]; ok {
		return w, nil
	}
	spec, ok := b.cfg.Symbols[symbol]
	if !ok {
		return nil, broker.UnknownSymbol(symbol)
	}
	if spec.PipSize <= 0 {
		spec.PipSize = 0.0001
	}
	if spec.DriftBound <= 0 {
		spec.DriftBound = 0.05
	}
	w := newWalk(b.cfg.Seed, symbol, spec, b.cfg.Spread)
	b.walks[symbol] = w
	return w, nil
}

// sweepTriggers closes positions whose stop/take level the new quote
// breached. Fills happen at the trigger level: realized P&L is attributed
// from entry to trigger, not to wherever the walk went past it.
// Caller holds b.mu.
func (b *Broker) sweepTriggers(symbol string, bid, ask float64) {
	for _, t := range b.openTickets() {
		pos := b.open[t]
		if pos == nil || pos.Symbol != symbol {
			continue
		}
		switch pos.Side {
		case broker.SideBuy:
			// a long exits on the bid
			if pos.StopLoss > 0 && bid <= pos.StopLoss {
				b.closeAt(pos, pos.StopLoss)
			} else if pos.TakeProfit > 0 && bid >= pos.TakeProfit {
				b.closeAt(pos, pos.TakeProfit)
			}
		case broker.SideSell:
			// a short exits on the ask
			if pos.StopLoss > 0 && ask >= pos.StopLoss {
				b.closeAt(pos, pos.StopLoss)
			} else if pos.TakeProfit > 0 && ask <= pos.TakeProfit {
				b.closeAt(pos, pos.TakeProfit)
			}
		}
	}
}

func (b *Broker) openTickets() []string {
	tickets := make([]string, 0, len(b.open))
	for ticket := range b.open {
		tickets = append(tickets, ticket)
	}
	sort.Strings(tickets)
	return tickets
}

// closeAt finalizes a position at the given exit price and moves it to
// history. Caller holds b.mu.
func (b *Broker) closeAt(t *broker.ManagedTrade, exit float64) broker.ManagedTrade {
	pnl := (exit - t.OpenPrice) * t.Volume * b.cfg.ContractSize
	if t.Side == broker.SideSell {
		pnl = -pnl
	}
	closedAt := b.now()
	t.Status = broker.TradeClosed
	t.ClosePrice = exit
	t.CloseTime = &closedAt
	t.ProfitLoss = &pnl
	delete(b.open, t.Ticket)
	b.history = append(b.history, *t)
	logger.Debugf("sim: closed %s @ %.5f pnl=%.2f", t.Ticket, exit, pnl)
	return *t
}

var errNotConnected = fmt.Errorf("not connected")
