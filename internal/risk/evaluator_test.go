package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluateNoLimits(t *testing.T) {
	v := Evaluate(Limits{}, Snapshot{
		RealizedPnL: d("-100000"),
		Open:        []OpenPosition{{UnrealizedPnL: d("-50000"), NotionalRisk: d("999999")}},
	})
	assert.False(t, v.Stop)
	assert.Empty(t, v.Reason)
}

func TestEvaluateDrawdown(t *testing.T) {
	limits := Limits{MaxDrawdown: d("500")}

	tests := []struct {
		name string
		snap Snapshot
		stop bool
	}{
		{
			name: "under limit",
			snap: Snapshot{RealizedPnL: d("-200"), Open: []OpenPosition{{UnrealizedPnL: d("-100")}}},
			stop: false,
		},
		{
			name: "exactly at limit",
			snap: Snapshot{RealizedPnL: d("-300"), Open: []OpenPosition{{UnrealizedPnL: d("-200")}}},
			stop: true,
		},
		{
			name: "over limit",
			snap: Snapshot{RealizedPnL: d("-600")},
			stop: true,
		},
		{
			name: "unrealized gain offsets realized loss",
			snap: Snapshot{RealizedPnL: d("-600"), Open: []OpenPosition{{UnrealizedPnL: d("150")}}},
			stop: false,
		},
		{
			name: "net profit never stops",
			snap: Snapshot{RealizedPnL: d("1000"), Open: []OpenPosition{{UnrealizedPnL: d("-100")}}},
			stop: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(limits, tt.snap)
			assert.Equal(t, tt.stop, v.Stop)
			if tt.stop {
				assert.Equal(t, ReasonDrawdown, v.Reason)
			}
		})
	}
}

func TestEvaluateMaxTrades(t *testing.T) {
	limits := Limits{MaxOpenTrades: 2}

	v := Evaluate(limits, Snapshot{Open: []OpenPosition{{}, {}}})
	assert.True(t, v.Stop)
	assert.Equal(t, ReasonMaxTrades, v.Reason)

	v = Evaluate(limits, Snapshot{Open: []OpenPosition{{}}})
	assert.False(t, v.Stop)
}

func TestEvaluatePerTradeRisk(t *testing.T) {
	limits := Limits{MaxPerTradeRisk: d("250")}

	v := Evaluate(limits, Snapshot{Open: []OpenPosition{
		{NotionalRisk: d("100")},
		{NotionalRisk: d("250.01")},
	}})
	assert.True(t, v.Stop)
	assert.Equal(t, ReasonPerTradeRisk, v.Reason)

	// exactly at the cap is allowed
	v = Evaluate(limits, Snapshot{Open: []OpenPosition{{NotionalRisk: d("250")}}})
	assert.False(t, v.Stop)
}

func TestEvaluateRuleOrder(t *testing.T) {
	// a snapshot breaching every rule must always report drawdown first
	limits := Limits{MaxDrawdown: d("10"), MaxOpenTrades: 1, MaxPerTradeRisk: d("1")}
	snap := Snapshot{
		RealizedPnL: d("-100"),
		Open: []OpenPosition{
			{UnrealizedPnL: d("-5"), NotionalRisk: d("500")},
			{UnrealizedPnL: d("-5"), NotionalRisk: d("500")},
		},
	}
	v := Evaluate(limits, snap)
	assert.True(t, v.Stop)
	assert.Equal(t, ReasonDrawdown, v.Reason)

	// with drawdown disabled, trade count wins over per-trade risk
	limits.MaxDrawdown = decimal.Zero
	v = Evaluate(limits, snap)
	assert.Equal(t, ReasonMaxTrades, v.Reason)
}
