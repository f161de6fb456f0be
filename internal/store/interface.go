// Package store persists strategies, sessions, trades and the session
// event stream. The runtime treats persistence as best-effort: a write
// failure is logged and trading continues, so the interface is small and
// every method is safe to retry.
package store

import (
	"context"
	"time"
)

// StrategyRecord is a saved strategy configuration.
type StrategyRecord struct {
	ID             string
	Name           string
	Symbol         string
	Side           string
	Kind           string
	InitialLotSize float64
	MaxLotSize     float64
	LotMultiplier  float64
	RecoveryStep   float64 // pips
	TakeProfit     float64 // pips, 0 disables
	StopLoss       float64 // pips, 0 disables
	PipSize        float64
	MaxTrades      int
	MaxDrawdown    float64 // account currency, 0 disables
	PerTradeRisk   float64 // percent of account equity, 0 disables
	Interval       time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionRecord is one execution of a strategy.
type SessionRecord struct {
	ID            string
	StrategyID    string
	Name          string
	Symbol        string
	Status        string
	StopReason    string
	TradesOpened  int
	TradesClosed  int
	WinningTrades int
	RecoveryDepth int
	RealizedPnL   float64
	StartedAt     time.Time
	StoppedAt     *time.Time
}

// TradeRecord mirrors one broker position owned by a session.
type TradeRecord struct {
	SessionID     string
	Ticket        string
	Symbol        string
	Side          string
	Volume        float64
	OpenPrice     float64
	ClosePrice    float64
	StopLoss      float64
	TakeProfit    float64
	Status        string
	RecoveryLevel int
	IsRecovery    bool
	ProfitLoss    float64
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// LogRecord is one entry of a session's persisted event stream.
type LogRecord struct {
	SessionID string
	Level     string
	Event     string
	Message   string
	Extra     map[string]any
	CreatedAt time.Time
}

// Store is the persistence surface the registry and runtimes write to.
type Store interface {
	SaveStrategy(ctx context.Context, rec StrategyRecord) error
	GetStrategy(ctx context.Context, id string) (StrategyRecord, bool, error)
	ListStrategies(ctx context.Context) ([]StrategyRecord, error)

	// SaveSession upserts by session id.
	SaveSession(ctx context.Context, rec SessionRecord) error
	GetSession(ctx context.Context, id string) (SessionRecord, bool, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)

	// SaveTrade upserts by (session id, ticket).
	SaveTrade(ctx context.Context, rec TradeRecord) error
	ListSessionTrades(ctx context.Context, sessionID string, limit int) ([]TradeRecord, error)

	AppendLog(ctx context.Context, rec LogRecord) error
	ListSessionLogs(ctx context.Context, sessionID string, limit int) ([]LogRecord, error)

	Close() error
}
