// Package risk evaluates session exposure against configured limits. The
// evaluator is pure: it reads a snapshot, applies the rules in a fixed
// order, and returns a verdict. It never talks to the broker or the store,
// which is what makes the limit logic testable in isolation.
package risk

import (
	"github.com/shopspring/decimal"
)

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Stop bool
	// Reason is set only when Stop is true: "drawdown", "max-trades" or
	// "per-trade-risk".
	Reason string
}

const (
	ReasonDrawdown     = "drawdown"
	ReasonMaxTrades    = "max-trades"
	ReasonPerTradeRisk = "per-trade-risk"
)

var continueTrading = Verdict{}

// Limits are the configured bounds for one session. Zero-valued limits are
// disabled.
type Limits struct {
	// MaxDrawdown is the largest tolerated combined loss (realized plus
	// unrealized) in account currency, expressed as a positive number.
	MaxDrawdown decimal.Decimal
	// MaxOpenTrades caps concurrently open positions.
	MaxOpenTrades int
	// MaxPerTradeRisk caps the notional at risk of any single open
	// position, in account currency.
	MaxPerTradeRisk decimal.Decimal
}

// OpenPosition is the slice of a broker position the evaluator needs.
type OpenPosition struct {
	// UnrealizedPnL in account currency; negative when losing.
	UnrealizedPnL decimal.Decimal
	// NotionalRisk is the amount lost if the position's stop is hit, or
	// the full notional when no stop is set.
	NotionalRisk decimal.Decimal
}

// Snapshot is everything one evaluation reads.
type Snapshot struct {
	// RealizedPnL accumulated by the session; negative when losing.
	RealizedPnL decimal.Decimal
	Open        []OpenPosition
}

// Evaluate applies the limit rules in order and returns the first breach.
// Rule order is fixed so a snapshot breaching several limits always reports
// the same reason: drawdown, then trade count, then per-trade risk.
func Evaluate(limits Limits, snap Snapshot) Verdict {
	if v := checkDrawdown(limits, snap); v.Stop {
		return v
	}
	if v := checkMaxTrades(limits, snap); v.Stop {
		return v
	}
	return checkPerTradeRisk(limits, snap)
}

func checkDrawdown(limits Limits, snap Snapshot) Verdict {
	if !limits.MaxDrawdown.IsPositive() {
		return continueTrading
	}
	total := snap.RealizedPnL
	for _, p := range snap.Open {
		total = total.Add(p.UnrealizedPnL)
	}
	// only losses count toward drawdown
	if total.IsNegative() && total.Neg().GreaterThanOrEqual(limits.MaxDrawdown) {
		return Verdict{Stop: true, Reason: ReasonDrawdown}
	}
	return continueTrading
}

func checkMaxTrades(limits Limits, snap Snapshot) Verdict {
	if limits.MaxOpenTrades > 0 && len(snap.Open) >= limits.MaxOpenTrades {
		return Verdict{Stop: true, Reason: ReasonMaxTrades}
	}
	return continueTrading
}

func checkPerTradeRisk(limits Limits, snap Snapshot) Verdict {
	if !limits.MaxPerTradeRisk.IsPositive() {
		return continueTrading
	}
	for _, p := range snap.Open {
		if p.NotionalRisk.GreaterThan(limits.MaxPerTradeRisk) {
			return Verdict{Stop: true, Reason: ReasonPerTradeRisk}
		}
	}
	return continueTrading
}
