package engine

import (
	"math"

	"github.com/snowdenHM/algo-trading/internal/broker"
)

func init() {
	RegisterKind("martingale", func(s Strategy) Kind {
		return &martingale{strat: s}
	})
}

// martingale sizes successive entries after losses: when price moves
// against the last fill by the recovery step, it opens another order in
// the same direction at multiplied volume, clamped at the max lot. After
// each recovery the whole basket is retargeted to a weighted-average
// break-even band.
type martingale struct {
	strat Strategy
}

func (m *martingale) Name() string { return "martingale" }

func (m *martingale) ComputeNextAction(view TickView) Action {
	if len(view.Open) == 0 {
		return m.initialEntry(view.Quote)
	}
	last, ok := view.LastOpen()
	if !ok {
		return Action{}
	}
	if !m.adverseMove(last, view.Quote) {
		return Action{}
	}
	if len(view.Open) >= m.strat.MaxTrades {
		return Action{}
	}
	volume := m.nextVolume(last.Volume)
	if volume <= 0 {
		// already at the ceiling: hold rather than exceed it
		return Action{}
	}
	return Action{
		Open: true,
		Order: broker.OrderRequest{
			Symbol: m.strat.Symbol,
			Side:   m.strat.Side,
			Volume: volume,
		},
		Recovery:       true,
		RecoveryLevel:  len(view.Open),
		RetargetBasket: true,
	}
}

func (m *martingale) initialEntry(q broker.Quote) Action {
	// entry references: buys fill at ask, sells at bid
	ref := q.Ask
	if m.strat.Side == broker.SideSell {
		ref = q.Bid
	}
	var sl, tp float64
	if m.strat.Side == broker.SideBuy {
		if m.strat.StopLossPips > 0 {
			sl = ref - m.strat.StopLossPips*m.strat.PipSize
		}
		if m.strat.TakeProfitPips > 0 {
			tp = ref + m.strat.TakeProfitPips*m.strat.PipSize
		}
	} else {
		if m.strat.StopLossPips > 0 {
			sl = ref + m.strat.StopLossPips*m.strat.PipSize
		}
		if m.strat.TakeProfitPips > 0 {
			tp = ref - m.strat.TakeProfitPips*m.strat.PipSize
		}
	}
	return Action{
		Open: true,
		Order: broker.OrderRequest{
			Symbol:     m.strat.Symbol,
			Side:       m.strat.Side,
			Volume:     roundLot(m.strat.InitialLotSize),
			StopLoss:   sl,
			TakeProfit: tp,
		},
	}
}

// adverseMove reports whether price has moved against the last fill by at
// least the recovery step. Longs are marked on the bid, shorts on the ask.
func (m *martingale) adverseMove(last broker.ManagedTrade, q broker.Quote) bool {
	step := m.strat.RecoveryStepPips * m.strat.PipSize
	if m.strat.Side == broker.SideBuy {
		return last.OpenPrice-q.Bid >= step
	}
	return q.Ask-last.OpenPrice >= step
}

// nextVolume multiplies the previous fill, clamping at the max lot. A zero
// return means the ladder is exhausted (previous fill already at max).
func (m *martingale) nextVolume(prev float64) float64 {
	if prev >= m.strat.MaxLotSize {
		return 0
	}
	next := prev * m.strat.LotMultiplier
	if next > m.strat.MaxLotSize {
		next = m.strat.MaxLotSize
	}
	return roundLot(next)
}

// basketLevels computes the shared protective levels for a recovered
// basket: take-profit and stop-loss measured from the volume-weighted
// average entry, so the whole ladder exits together around break-even
// plus the configured distances.
func basketLevels(strat Strategy, open []broker.ManagedTrade) (stopLoss, takeProfit float64) {
	var volSum, notional float64
	for _, t := range open {
		volSum += t.Volume
		notional += t.Volume * t.OpenPrice
	}
	if volSum <= 0 {
		return 0, 0
	}
	avg := notional / volSum
	if strat.Side == broker.SideBuy {
		if strat.StopLossPips > 0 {
			stopLoss = avg - strat.StopLossPips*strat.PipSize
		}
		if strat.TakeProfitPips > 0 {
			takeProfit = avg + strat.TakeProfitPips*strat.PipSize
		}
	} else {
		if strat.StopLossPips > 0 {
			stopLoss = avg + strat.StopLossPips*strat.PipSize
		}
		if strat.TakeProfitPips > 0 {
			takeProfit = avg - strat.TakeProfitPips*strat.PipSize
		}
	}
	return stopLoss, takeProfit
}

// roundLot snaps a volume to the 0.01-lot grid brokers accept.
func roundLot(v float64) float64 {
	return math.Round(v*100) / 100
}
