// Package binance implements the live broker backend on the Binance USD-M
// futures REST API via the go-binance SDK.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/snowdenHM/algo-trading/internal/broker"
	"github.com/snowdenHM/algo-trading/internal/logger"
	"github.com/snowdenHM/algo-trading/internal/pkg/circuit"
)

// Broker drives a Binance futures account. Binance has no per-position
// ticket, so the broker keeps its own book of trades it placed: the ticket
// is the entry order id, and closure is detected by the exchange-side
// position for the symbol going flat.
type Broker struct {
	cfg     Config
	breaker *circuit.Breaker

	mu         sync.Mutex
	client     *futures.Client
	connected  bool
	book       map[string]*broker.ManagedTrade // ticket -> open trade
	closed     []broker.ManagedTrade           // oldest first
	protective map[string][]int64              // symbol -> close-position order ids we placed
}

// Binance API error codes this backend branches on.
const (
	codeInvalidSymbol      = -1121
	codeCancelRejected     = -2011
	codeReduceOnlyRejected = -2022
)

var _ broker.Broker = (*Broker)(nil)

// New builds a live broker from cfg. No connection is made until Connect.
func New(cfg Config) *Broker {
	final := cfg.withDefaults()
	return &Broker{
		cfg:        final,
		breaker:    circuit.NewBreaker("binance", final.ConsecutiveFailures, final.TripTimeout),
		book:       make(map[string]*broker.ManagedTrade),
		protective: make(map[string][]int64),
	}
}

// Connect creates the signed client and verifies it with an account fetch,
// so bad credentials fail here rather than on the first order.
func (b *Broker) Connect(ctx context.Context, creds broker.Credentials) (broker.ConnectionState, error) {
	if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.APISecret) == "" {
		return broker.StateDisconnected, broker.ConnectionFailed(errors.New("missing api credentials"))
	}
	client := futures.NewClient(creds.APIKey, creds.APISecret)
	baseURL := strings.TrimSpace(creds.BaseURL)
	if baseURL == "" {
		baseURL = b.cfg.RESTBaseURL
	}
	client.BaseURL = baseURL
	client.HTTPClient = &http.Client{Timeout: b.cfg.HTTPTimeout}

	if _, err := client.NewGetAccountService().Do(ctx); err != nil {
		b.breaker.RecordFailure()
		return broker.StateDisconnected, broker.ConnectionFailed(err)
	}
	b.breaker.RecordSuccess()

	b.mu.Lock()
	b.client = client
	b.connected = true
	b.mu.Unlock()
	logger.Infof("binance: connected (%s)", baseURL)
	return broker.StateConnected, nil
}

// Disconnect is idempotent; the REST client holds no persistent socket.
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	b.client = nil
	b.connected = false
	b.mu.Unlock()
	return nil
}

// Quote reads the best bid/ask from the book ticker endpoint.
func (b *Broker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	client, err := b.activeClient()
	if err != nil {
		return broker.Quote{}, err
	}
	if !b.breaker.Allow() {
		return broker.Quote{}, broker.ConnectionFailed(errBreakerOpen)
	}
	tickers, err := client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return broker.Quote{}, b.classifyQuote(symbol, err)
	}
	b.breaker.RecordSuccess()
	if len(tickers) == 0 || tickers[0] == nil {
		return broker.Quote{}, broker.UnknownSymbol(symbol)
	}
	tk := tickers[0]
	bid := parseFloat(tk.BidPrice)
	ask := parseFloat(tk.AskPrice)
	if bid <= 0 || ask <= 0 {
		return broker.Quote{}, broker.UnknownSymbol(symbol)
	}
	return broker.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.Now()}, nil
}

// PlaceOrder submits a market order plus, when requested, close-position
// stop-market and take-profit-market orders at the given levels.
func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.ManagedTrade, error) {
	client, err := b.activeClient()
	if err != nil {
		return broker.ManagedTrade{}, err
	}
	if !b.breaker.Allow() {
		return broker.ManagedTrade{}, broker.ConnectionFailed(errBreakerOpen)
	}
	if req.Volume <= 0 {
		return broker.ManagedTrade{}, broker.OrderRejected(fmt.Sprintf("invalid volume %.4f", req.Volume))
	}
	side := futures.SideTypeBuy
	if req.Side == broker.SideSell {
		side = futures.SideTypeSell
	}
	res, err := client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(req.Volume)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return broker.ManagedTrade{}, b.classify(err)
	}
	b.breaker.RecordSuccess()

	fill := parseFloat(res.AvgPrice)
	trade := broker.ManagedTrade{
		Ticket:     strconv.FormatInt(res.OrderID, 10),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     broker.TradeOpen,
		OpenTime:   time.Now(),
	}

	// Protective orders ride on the exchange so they fill even if this
	// process is down. Failures here are logged, not fatal: the runtime
	// still enforces its own risk stop every tick.
	closeSide := futures.SideTypeSell
	if req.Side == broker.SideSell {
		closeSide = futures.SideTypeBuy
	}
	if req.StopLoss > 0 {
		res, err := client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatFloat(req.StopLoss)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			logger.Warnf("binance: stop-loss order failed for %s: %v", trade.Ticket, err)
		} else {
			b.rememberProtective(req.Symbol, res.OrderID)
		}
	}
	if req.TakeProfit > 0 {
		res, err := client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatFloat(req.TakeProfit)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			logger.Warnf("binance: take-profit order failed for %s: %v", trade.Ticket, err)
		} else {
			b.rememberProtective(req.Symbol, res.OrderID)
		}
	}

	b.mu.Lock()
	b.book[trade.Ticket] = &trade
	b.mu.Unlock()
	logger.Infof("binance: opened %s %s %.4f %s @ %.5f", trade.Ticket, req.Side, req.Volume, req.Symbol, fill)
	return trade, nil
}

// ListOpenPositions reconciles the internal book against exchange-side
// position risk: trades whose symbol went flat on the exchange are marked
// closed (protective order or manual close) and moved to history.
func (b *Broker) ListOpenPositions(ctx context.Context) ([]broker.ManagedTrade, error) {
	client, err := b.activeClient()
	if err != nil {
		return nil, err
	}
	if !b.breaker.Allow() {
		return nil, broker.ConnectionFailed(errBreakerOpen)
	}
	risks, err := client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, b.classify(err)
	}
	b.breaker.RecordSuccess()

	amtBySymbol := make(map[string]float64, len(risks))
	markBySymbol := make(map[string]float64, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amtBySymbol[r.Symbol] += parseFloat(r.PositionAmt)
		markBySymbol[r.Symbol] = parseFloat(r.MarkPrice)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.ManagedTrade, 0, len(b.book))
	for _, ticket := range b.sortedTickets() {
		t := b.book[ticket]
		if amtBySymbol[t.Symbol] == 0 {
			b.finalize(t, markBySymbol[t.Symbol])
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// ModifyPosition cancels the protective orders this broker placed for the
// symbol and re-places them at the new levels, then updates the book entry.
// Binance has no in-place amend for close-position stops, so this is
// cancel-and-replace. Only tracked order ids are cancelled: orders placed
// by anyone else on the same symbol are left alone.
func (b *Broker) ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit float64) (broker.ManagedTrade, error) {
	client, err := b.activeClient()
	if err != nil {
		return broker.ManagedTrade{}, err
	}
	b.mu.Lock()
	t, ok := b.book[ticket]
	if !ok {
		b.mu.Unlock()
		return broker.ManagedTrade{}, broker.PositionNotFound(ticket)
	}
	trade := *t
	pending := append([]int64(nil), b.protective[trade.Symbol]...)
	b.protective[trade.Symbol] = nil
	b.mu.Unlock()

	for _, id := range pending {
		if _, err := client.NewCancelOrderService().Symbol(trade.Symbol).OrderID(id).Do(ctx); err != nil {
			var apiErr *common.APIError
			if errors.As(err, &apiErr) && apiErr.Code == codeCancelRejected {
				// already filled or cancelled on the exchange side
				continue
			}
			return broker.ManagedTrade{}, b.classify(err)
		}
	}
	closeSide := futures.SideTypeSell
	if trade.Side == broker.SideSell {
		closeSide = futures.SideTypeBuy
	}
	if stopLoss > 0 {
		res, err := client.NewCreateOrderService().
			Symbol(trade.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatFloat(stopLoss)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return broker.ManagedTrade{}, b.classify(err)
		}
		b.rememberProtective(trade.Symbol, res.OrderID)
	}
	if takeProfit > 0 {
		res, err := client.NewCreateOrderService().
			Symbol(trade.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatFloat(takeProfit)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return broker.ManagedTrade{}, b.classify(err)
		}
		b.rememberProtective(trade.Symbol, res.OrderID)
	}
	b.breaker.RecordSuccess()

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.book[ticket]; ok {
		t.StopLoss = stopLoss
		t.TakeProfit = takeProfit
		return *t, nil
	}
	return broker.ManagedTrade{}, broker.PositionNotFound(ticket)
}

// ClosePosition submits a reduce-only market order for the trade's volume.
// A ticket already moved to history returns its final state (idempotent);
// an unknown ticket is a PositionNotFound.
func (b *Broker) ClosePosition(ctx context.Context, ticket string) (broker.ManagedTrade, error) {
	client, err := b.activeClient()
	if err != nil {
		return broker.ManagedTrade{}, err
	}
	b.mu.Lock()
	t, open := b.book[ticket]
	if !open {
		for i := len(b.closed) - 1; i >= 0; i-- {
			if b.closed[i].Ticket == ticket {
				final := b.closed[i]
				b.mu.Unlock()
				return final, nil
			}
		}
		b.mu.Unlock()
		return broker.ManagedTrade{}, broker.PositionNotFound(ticket)
	}
	trade := *t
	b.mu.Unlock()

	closeSide := futures.SideTypeSell
	if trade.Side == broker.SideSell {
		closeSide = futures.SideTypeBuy
	}
	res, err := client.NewCreateOrderService().
		Symbol(trade.Symbol).
		Side(closeSide).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(trade.Volume)).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		if isPositionFlat(err) {
			// A protective fill beat us to it. Settle at the current mark
			// so the stop/take fill's P&L is attributed, not zeroed.
			mark := b.markPrice(ctx, client, trade.Symbol)
			b.mu.Lock()
			final := b.finalize(t, mark)
			b.mu.Unlock()
			return final, nil
		}
		return broker.ManagedTrade{}, b.classify(err)
	}
	b.breaker.RecordSuccess()

	b.mu.Lock()
	final := b.finalize(t, parseFloat(res.AvgPrice))
	b.mu.Unlock()
	return final, nil
}

// CloseAll is best-effort: per-ticket failures are logged and skipped.
func (b *Broker) CloseAll(ctx context.Context) (int, error) {
	b.mu.Lock()
	tickets := b.sortedTickets()
	b.mu.Unlock()

	closed := 0
	for _, ticket := range tickets {
		if _, err := b.ClosePosition(ctx, ticket); err != nil {
			logger.Warnf("binance: close-all skipped %s: %v", ticket, err)
			continue
		}
		closed++
	}
	return closed, nil
}

// TradeHistory returns trades this broker closed, most recent first.
func (b *Broker) TradeHistory(ctx context.Context, limit int) ([]broker.ManagedTrade, error) {
	if _, err := b.activeClient(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.closed) {
		limit = len(b.closed)
	}
	out := make([]broker.ManagedTrade, 0, limit)
	for i := len(b.closed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.closed[i])
	}
	return out, nil
}

// markPrice fetches the symbol's current mark, 0 when unavailable
// (finalize then falls back to the open price).
func (b *Broker) markPrice(ctx context.Context, client *futures.Client, symbol string) float64 {
	risks, err := client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0
	}
	for _, r := range risks {
		if r != nil && r.Symbol == symbol {
			return parseFloat(r.MarkPrice)
		}
	}
	return 0
}

func (b *Broker) activeClient() (*futures.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected || b.client == nil {
		return nil, broker.ConnectionFailed(errors.New("not connected"))
	}
	return b.client, nil
}

// finalize closes a book entry at exit and records realized P&L in quote
// currency. Caller holds b.mu.
func (b *Broker) finalize(t *broker.ManagedTrade, exit float64) broker.ManagedTrade {
	if exit <= 0 {
		exit = t.OpenPrice
	}
	pnl := (exit - t.OpenPrice) * t.Volume
	if t.Side == broker.SideSell {
		pnl = -pnl
	}
	now := time.Now()
	t.Status = broker.TradeClosed
	t.ClosePrice = exit
	t.CloseTime = &now
	t.ProfitLoss = &pnl
	delete(b.book, t.Ticket)
	b.closed = append(b.closed, *t)
	if !b.symbolInBook(t.Symbol) {
		delete(b.protective, t.Symbol)
	}
	logger.Infof("binance: closed %s @ %.5f pnl=%.2f", t.Ticket, exit, pnl)
	return *t
}

// rememberProtective records a close-position order id so ModifyPosition
// cancels exactly the orders this broker owns.
func (b *Broker) rememberProtective(symbol string, orderID int64) {
	b.mu.Lock()
	b.protective[symbol] = append(b.protective[symbol], orderID)
	b.mu.Unlock()
}

// symbolInBook reports whether any open trade remains on symbol. Caller
// holds b.mu.
func (b *Broker) symbolInBook(symbol string) bool {
	for _, t := range b.book {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

// sortedTickets returns book tickets in stable order. Caller holds b.mu.
func (b *Broker) sortedTickets() []string {
	tickets := make([]string, 0, len(b.book))
	for ticket := range b.book {
		tickets = append(tickets, ticket)
	}
	sort.Strings(tickets)
	return tickets
}

// classify maps SDK errors onto the broker taxonomy: an API-level error is
// a rejection, anything else (timeout, DNS, 5xx transport) counts against
// the connection breaker.
func (b *Broker) classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		b.breaker.RecordSuccess()
		return broker.OrderRejected(fmt.Sprintf("code=%d %s", apiErr.Code, apiErr.Message))
	}
	b.breaker.RecordFailure()
	return broker.ConnectionFailed(err)
}

// classifyQuote is classify plus the quote-specific case: -1121 means the
// symbol does not exist on the exchange.
func (b *Broker) classifyQuote(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
		b.breaker.RecordSuccess()
		return broker.UnknownSymbol(symbol)
	}
	return b.classify(err)
}

// isPositionFlat reports whether err is Binance rejecting a reduce-only
// order because the position no longer exists: a stop or take fill racing
// the close. Every other API error is a real failure.
func isPositionFlat(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeReduceOnlyRejected
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var errBreakerOpen = errors.New("connection breaker open")
