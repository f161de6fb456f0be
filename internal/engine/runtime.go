package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snowdenHM/algo-trading/internal/broker"
	"github.com/snowdenHM/algo-trading/internal/logger"
	"github.com/snowdenHM/algo-trading/internal/risk"
	"github.com/snowdenHM/algo-trading/internal/store"
)

// maxConnFailures is how many consecutive tick-level connection failures
// move a session to errored.
const maxConnFailures = 2

type stopRequest struct {
	closePositions bool
}

type ownedTrade struct {
	trade         broker.ManagedTrade
	recoveryLevel int
}

// runtime drives one session. All session state is owned by the run
// goroutine; the registry only reads snapshots and signals stop.
type runtime struct {
	session *Session
	strat   Strategy
	kind    Kind
	brk     broker.Broker
	st      store.Store // nil disables persistence

	limits risk.Limits

	stopCh chan stopRequest
	done   chan struct{}

	owned        map[string]*ownedTrade
	connFailures int
}

func newRuntime(session *Session, strat Strategy, kind Kind, brk broker.Broker, st store.Store) *runtime {
	limits := risk.Limits{
		MaxDrawdown: decimal.NewFromFloat(strat.MaxDrawdown),
		// the kind itself never opens past MaxTrades; the evaluator only
		// fires if the count somehow exceeds it
		MaxOpenTrades: strat.MaxTrades + 1,
	}
	if strat.PerTradeRiskPct > 0 && strat.AccountEquity > 0 {
		limits.MaxPerTradeRisk = decimal.NewFromFloat(strat.AccountEquity * strat.PerTradeRiskPct / 100)
	}
	return &runtime{
		session: session,
		strat:   strat,
		kind:    kind,
		brk:     brk,
		st:      st,
		limits:  limits,
		stopCh:  make(chan stopRequest, 1),
		done:    make(chan struct{}),
		owned:   make(map[string]*ownedTrade),
	}
}

// run is the session loop: one tick per interval until a terminal state.
// A stop signal is observed at the top of the next tick, never mid-tick,
// so a tick that already started completes its broker calls.
func (r *runtime) run(ctx context.Context) {
	defer close(r.done)

	r.persistSession(ctx)
	r.logEvent(ctx, "info", "session-created", "session created in pending state", nil)

	ticker := time.NewTicker(r.strat.Interval)
	defer ticker.Stop()

	for {
		select {
		case req := <-r.stopCh:
			r.shutdown(ctx, req.closePositions)
			return
		default:
		}

		r.tick(ctx)
		if r.session.currentStatus().Terminal() {
			return
		}

		select {
		case req := <-r.stopCh:
			r.shutdown(ctx, req.closePositions)
			return
		case <-ctx.Done():
			// process shutdown: leave positions to their broker-side stops
			r.session.setStatus(StatusStopped, StopReasonShutdown)
			r.persistSession(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
		}
	}
}

func (r *runtime) tick(ctx context.Context) {
	quote, err := r.brk.Quote(ctx, r.strat.Symbol)
	if err != nil {
		r.handleQuoteError(ctx, err)
		return
	}
	r.connFailures = 0

	if r.session.currentStatus() == StatusPending {
		r.session.setStatus(StatusActive, "")
		logger.Infof("session %s: active on %s", r.session.id, r.strat.Symbol)
		r.logEvent(ctx, "info", "session-activated", "broker connection confirmed", nil)
		r.persistSession(ctx)
	}

	r.reconcile(ctx)

	// a full trade budget with nothing left open means the session is done
	snap := r.session.Snapshot()
	if snap.TotalTrades >= r.strat.MaxTrades && len(r.owned) == 0 {
		r.session.setStatus(StatusStopped, risk.ReasonMaxTrades)
		r.logEvent(ctx, "info", "session-stopped", "trade budget exhausted", nil)
		r.persistSession(ctx)
		return
	}

	view := TickView{Quote: quote, Open: r.openTrades()}

	// risk stop takes precedence over any new exposure this tick
	if verdict := risk.Evaluate(r.limits, r.riskSnapshot(view)); verdict.Stop {
		logger.Warnf("session %s: risk stop (%s)", r.session.id, verdict.Reason)
		r.logEvent(ctx, "warn", "risk-stop", "risk limit breached", map[string]any{"reason": verdict.Reason})
		r.closeOwned(ctx)
		r.session.setStatus(StatusStopped, verdict.Reason)
		r.persistSession(ctx)
		return
	}

	if action := r.kind.ComputeNextAction(view); action.Open {
		r.execute(ctx, action)
	}

	r.session.setExposure(len(r.owned), r.maxRecoveryLevel())
	r.persistSession(ctx)
}

func (r *runtime) handleQuoteError(ctx context.Context, err error) {
	if !errors.Is(err, broker.ErrConnection) {
		// unknown symbol or similar: log and hold, the session continues
		logger.Errorf("session %s: quote failed: %v", r.session.id, err)
		return
	}
	r.connFailures++
	logger.Warnf("session %s: broker unreachable (%d/%d): %v", r.session.id, r.connFailures, maxConnFailures, err)
	r.logEvent(ctx, "warn", "connection-failure", err.Error(), map[string]any{"consecutive": r.connFailures})
	if r.connFailures >= maxConnFailures {
		// counters stay as last known; operator intervention required
		r.session.setStatus(StatusErrored, "connection")
		r.logEvent(ctx, "error", "session-errored", "consecutive broker connection failures", nil)
		r.persistSession(ctx)
	}
}

// reconcile re-checks every trade the runtime believes open against the
// broker. Trades the broker closed (stop, take, manual) are folded into
// the session aggregates.
func (r *runtime) reconcile(ctx context.Context) {
	if len(r.owned) == 0 {
		return
	}
	positions, err := r.brk.ListOpenPositions(ctx)
	if err != nil {
		logger.Warnf("session %s: reconcile skipped: %v", r.session.id, err)
		return
	}
	stillOpen := make(map[string]bool, len(positions))
	for _, p := range positions {
		stillOpen[p.Ticket] = true
	}
	for _, ticket := range r.ownedTickets() {
		if stillOpen[ticket] {
			continue
		}
		// ClosePosition on a closed ticket returns its final state
		final, err := r.brk.ClosePosition(ctx, ticket)
		if err != nil {
			logger.Warnf("session %s: lost track of %s: %v", r.session.id, ticket, err)
			delete(r.owned, ticket)
			continue
		}
		r.settle(ctx, final)
	}
}

// settle records a broker-closed trade into the session.
func (r *runtime) settle(ctx context.Context, final broker.ManagedTrade) {
	ot := r.owned[final.Ticket]
	delete(r.owned, final.Ticket)

	var pnl float64
	if final.ProfitLoss != nil {
		pnl = *final.ProfitLoss
	}
	r.session.recordClose(pnl)
	logger.Infof("session %s: trade %s closed pnl=%.2f", r.session.id, final.Ticket, pnl)

	level := 0
	if ot != nil {
		level = ot.recoveryLevel
	}
	r.saveTrade(ctx, final, level)
}

func (r *runtime) execute(ctx context.Context, action Action) {
	trade, err := r.brk.PlaceOrder(ctx, action.Order)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrOrderRejected):
			// tick continues; conditions are re-evaluated next tick
			logger.Warnf("session %s: order rejected: %v", r.session.id, err)
			r.logEvent(ctx, "warn", "order-rejected", err.Error(), nil)
		case errors.Is(err, broker.ErrConnection):
			logger.Warnf("session %s: order failed, broker unreachable: %v", r.session.id, err)
		default:
			logger.Errorf("session %s: order failed: %v", r.session.id, err)
		}
		return
	}

	r.owned[trade.Ticket] = &ownedTrade{trade: trade, recoveryLevel: action.RecoveryLevel}
	event := "position-opened"
	if action.Recovery {
		event = "recovery-opened"
	}
	logger.Infof("session %s: %s %s %s %.2f @ %.5f (level %d)",
		r.session.id, event, trade.Ticket, trade.Side, trade.Volume, trade.OpenPrice, action.RecoveryLevel)
	r.logEvent(ctx, "info", event, "order filled", map[string]any{
		"ticket": trade.Ticket,
		"volume": trade.Volume,
		"level":  action.RecoveryLevel,
	})
	r.saveTrade(ctx, trade, action.RecoveryLevel)

	if action.RetargetBasket {
		r.retargetBasket(ctx)
	}
}

// retargetBasket moves every open trade's protective levels to the shared
// weighted-average break-even band after a recovery fill.
func (r *runtime) retargetBasket(ctx context.Context) {
	open := r.openTrades()
	sl, tp := basketLevels(r.strat, open)
	if sl == 0 && tp == 0 {
		return
	}
	for _, ticket := range r.ownedTickets() {
		updated, err := r.brk.ModifyPosition(ctx, ticket, sl, tp)
		if err != nil {
			logger.Warnf("session %s: retarget %s failed: %v", r.session.id, ticket, err)
			continue
		}
		r.owned[ticket].trade = updated
		r.saveTrade(ctx, updated, r.owned[ticket].recoveryLevel)
	}
	logger.Infof("session %s: basket retargeted sl=%.5f tp=%.5f across %d trades",
		r.session.id, sl, tp, len(open))
}

// closeOwned flattens the session's own positions, best-effort.
func (r *runtime) closeOwned(ctx context.Context) {
	for _, ticket := range r.ownedTickets() {
		final, err := r.brk.ClosePosition(ctx, ticket)
		if err != nil {
			logger.Warnf("session %s: close %s failed: %v", r.session.id, ticket, err)
			continue
		}
		r.settle(ctx, final)
	}
}

func (r *runtime) shutdown(ctx context.Context, closePositions bool) {
	if closePositions {
		r.closeOwned(ctx)
	}
	r.session.setExposure(len(r.owned), r.maxRecoveryLevel())
	r.session.setStatus(StatusStopped, StopReasonRequested)
	logger.Infof("session %s: stopped (close_positions=%v)", r.session.id, closePositions)
	r.logEvent(ctx, "info", "session-stopped", "stop requested", map[string]any{"close_positions": closePositions})
	r.persistSession(ctx)
}

// riskSnapshot converts the tick view into the evaluator's input.
func (r *runtime) riskSnapshot(view TickView) risk.Snapshot {
	snap := risk.Snapshot{
		RealizedPnL: decimal.NewFromFloat(r.session.realized()),
	}
	contract := decimal.NewFromFloat(r.strat.ContractSize)
	bid := decimal.NewFromFloat(view.Quote.Bid)
	ask := decimal.NewFromFloat(view.Quote.Ask)
	for _, t := range view.Open {
		open := decimal.NewFromFloat(t.OpenPrice)
		vol := decimal.NewFromFloat(t.Volume)

		// longs are marked on the bid, shorts on the ask
		var unrealized decimal.Decimal
		if t.Side == broker.SideBuy {
			unrealized = bid.Sub(open).Mul(vol).Mul(contract)
		} else {
			unrealized = open.Sub(ask).Mul(vol).Mul(contract)
		}

		// risk to the stop, or the full notional when no stop is set
		var notional decimal.Decimal
		if t.StopLoss > 0 {
			notional = open.Sub(decimal.NewFromFloat(t.StopLoss)).Abs().Mul(vol).Mul(contract)
		} else {
			notional = open.Mul(vol).Mul(contract)
		}
		snap.Open = append(snap.Open, risk.OpenPosition{
			UnrealizedPnL: unrealized,
			NotionalRisk:  notional,
		})
	}
	return snap
}

func (r *runtime) openTrades() []broker.ManagedTrade {
	out := make([]broker.ManagedTrade, 0, len(r.owned))
	for _, ticket := range r.ownedTickets() {
		out = append(out, r.owned[ticket].trade)
	}
	return out
}

func (r *runtime) ownedTickets() []string {
	tickets := make([]string, 0, len(r.owned))
	for ticket := range r.owned {
		tickets = append(tickets, ticket)
	}
	sort.Strings(tickets)
	return tickets
}

func (r *runtime) maxRecoveryLevel() int {
	level := 0
	for _, ot := range r.owned {
		if ot.recoveryLevel > level {
			level = ot.recoveryLevel
		}
	}
	return level
}

// --------------------------- persistence ---------------------------
//
// Persistence is best-effort: failures are logged and the in-memory
// session stays authoritative for the current run.

func (r *runtime) persistSession(ctx context.Context) {
	if r.st == nil {
		return
	}
	snap := r.session.Snapshot()
	rec := store.SessionRecord{
		ID:            snap.ID,
		StrategyID:    snap.StrategyID,
		Name:          snap.Name,
		Symbol:        snap.Symbol,
		Status:        string(snap.Status),
		StopReason:    snap.StopReason,
		TradesOpened:  snap.TotalTrades + snap.OpenTrades,
		TradesClosed:  snap.TotalTrades,
		WinningTrades: snap.WinningTrades,
		RecoveryDepth: snap.RecoveryDepth,
		RealizedPnL:   snap.RealizedPnL,
		StartedAt:     snap.StartedAt,
		StoppedAt:     snap.StoppedAt,
	}
	if err := r.st.SaveSession(ctx, rec); err != nil {
		logger.Warnf("session %s: persist failed: %v", snap.ID, err)
	}
}

func (r *runtime) saveTrade(ctx context.Context, t broker.ManagedTrade, recoveryLevel int) {
	if r.st == nil {
		return
	}
	rec := store.TradeRecord{
		SessionID:     r.session.id,
		Ticket:        t.Ticket,
		Symbol:        t.Symbol,
		Side:          string(t.Side),
		Volume:        t.Volume,
		OpenPrice:     t.OpenPrice,
		ClosePrice:    t.ClosePrice,
		StopLoss:      t.StopLoss,
		TakeProfit:    t.TakeProfit,
		Status:        string(t.Status),
		RecoveryLevel: recoveryLevel,
		IsRecovery:    recoveryLevel > 0,
		OpenedAt:      t.OpenTime,
		ClosedAt:      t.CloseTime,
	}
	if t.ProfitLoss != nil {
		rec.ProfitLoss = *t.ProfitLoss
	}
	if err := r.st.SaveTrade(ctx, rec); err != nil {
		logger.Warnf("session %s: trade persist failed: %v", r.session.id, err)
	}
}

func (r *runtime) logEvent(ctx context.Context, level, event, message string, extra map[string]any) {
	if r.st == nil {
		return
	}
	rec := store.LogRecord{
		SessionID: r.session.id,
		Level:     level,
		Event:     event,
		Message:   message,
		Extra:     extra,
	}
	if err := r.st.AppendLog(ctx, rec); err != nil {
		logger.Debugf("session %s: event log failed: %v", r.session.id, err)
	}
}
