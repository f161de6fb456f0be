// Package model holds the gorm table models for the sqlite store.
package model

import (
	"gorm.io/datatypes"
)

// StrategyModel is a saved strategy configuration. Sessions reference it
// by id; the runtime snapshots the parameters at session start so edits to
// a strategy never affect a running session.
type StrategyModel struct {
	ID             string  `gorm:"column:id;primaryKey"`
	Name           string  `gorm:"column:name;uniqueIndex"`
	Symbol         string  `gorm:"column:symbol;index"`
	Side           string  `gorm:"column:side"`
	Kind           string  `gorm:"column:kind"`
	InitialLotSize float64 `gorm:"column:initial_lot_size"`
	MaxLotSize     float64 `gorm:"column:max_lot_size"`
	LotMultiplier  float64 `gorm:"column:lot_multiplier"`
	RecoveryStep   float64 `gorm:"column:recovery_step_pips"`
	TakeProfit     float64 `gorm:"column:take_profit_pips"`
	StopLoss       float64 `gorm:"column:stop_loss_pips"`
	PipSize        float64 `gorm:"column:pip_size"`
	MaxTrades      int     `gorm:"column:max_trades"`
	MaxDrawdown    float64 `gorm:"column:max_drawdown"`
	PerTradeRisk   float64 `gorm:"column:per_trade_risk"`
	IntervalMS     int64   `gorm:"column:interval_ms"`
	CreatedAtUnix  int64   `gorm:"column:created_at"`
	UpdatedAtUnix  int64   `gorm:"column:updated_at"`
}

func (StrategyModel) TableName() string { return "strategies" }

// TradingSessionModel is one execution of a strategy from start to stop.
type TradingSessionModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	StrategyID    string  `gorm:"column:strategy_id;index"`
	Name          string  `gorm:"column:name"`
	Symbol        string  `gorm:"column:symbol;index"`
	Status        string  `gorm:"column:status;index"`
	StopReason    string  `gorm:"column:stop_reason"`
	TradesOpened  int     `gorm:"column:trades_opened"`
	TradesClosed  int     `gorm:"column:trades_closed"`
	WinningTrades int     `gorm:"column:winning_trades"`
	RecoveryDepth int     `gorm:"column:recovery_depth"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`
	StartedAtUnix int64   `gorm:"column:started_at"`
	StoppedAtUnix int64   `gorm:"column:stopped_at"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (TradingSessionModel) TableName() string { return "trading_sessions" }

// TradeModel mirrors one broker position owned by a session. RecoveryLevel
// is 0 for the initial entry and increments for each recovery order.
type TradeModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	SessionID     string  `gorm:"column:session_id;uniqueIndex:idx_session_ticket,priority:1"`
	Ticket        string  `gorm:"column:ticket;uniqueIndex:idx_session_ticket,priority:2"`
	Symbol        string  `gorm:"column:symbol"`
	Side          string  `gorm:"column:side"`
	Volume        float64 `gorm:"column:volume"`
	OpenPrice     float64 `gorm:"column:open_price"`
	ClosePrice    float64 `gorm:"column:close_price"`
	StopLoss      float64 `gorm:"column:stop_loss"`
	TakeProfit    float64 `gorm:"column:take_profit"`
	Status        string  `gorm:"column:status;index"`
	RecoveryLevel int     `gorm:"column:recovery_level"`
	IsRecovery    bool    `gorm:"column:is_recovery"`
	ProfitLoss    float64 `gorm:"column:profit_loss"`
	OpenedAtUnix  int64   `gorm:"column:opened_at"`
	ClosedAtUnix  int64   `gorm:"column:closed_at"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trades" }

// SystemLogModel is the persisted event stream a session leaves behind:
// state transitions, risk stops, order rejections.
type SystemLogModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	SessionID     string         `gorm:"column:session_id;index"`
	Level         string         `gorm:"column:level"`
	Event         string         `gorm:"column:event;index"`
	Message       string         `gorm:"column:message"`
	Extra         datatypes.JSON `gorm:"column:extra;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (SystemLogModel) TableName() string { return "system_logs" }
