package engine

import (
	"sync"
	"time"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
	StatusErrored Status = "errored"
)

// Terminal reports whether the status is final. A stopped or errored
// session never resumes; a new session must be started.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusErrored
}

// Stop reasons recorded on a session.
const (
	StopReasonRequested = "requested"
	StopReasonShutdown  = "shutdown"
)

// Snapshot is a point-in-time copy of a session's state, safe to hand to
// the registry and the HTTP layer.
type Snapshot struct {
	ID         string     `json:"id"`
	StrategyID string     `json:"strategy_id"`
	Name       string     `json:"name"`
	Symbol     string     `json:"symbol"`
	Status     Status     `json:"status"`
	StopReason string     `json:"stop_reason,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	OpenTrades    int     `json:"open_trades"`
	RecoveryDepth int     `json:"recovery_depth"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// Session is one execution of a strategy. Its fields are mutated only by
// the owning runtime goroutine; everyone else reads snapshots through the
// mutex.
type Session struct {
	id         string
	strategyID string
	name       string
	symbol     string

	mu            sync.Mutex
	status        Status
	stopReason    string
	startedAt     time.Time
	stoppedAt     *time.Time
	totalTrades   int
	winningTrades int
	openTrades    int
	recoveryDepth int
	realizedPnL   float64
}

func newSession(id, strategyID, name, symbol string) *Session {
	return &Session{
		id:         id,
		strategyID: strategyID,
		name:       name,
		symbol:     symbol,
		status:     StatusPending,
		startedAt:  time.Now(),
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.id,
		StrategyID:    s.strategyID,
		Name:          s.name,
		Symbol:        s.symbol,
		Status:        s.status,
		StopReason:    s.stopReason,
		StartedAt:     s.startedAt,
		StoppedAt:     s.stoppedAt,
		TotalTrades:   s.totalTrades,
		WinningTrades: s.winningTrades,
		OpenTrades:    s.openTrades,
		RecoveryDepth: s.recoveryDepth,
		RealizedPnL:   s.realizedPnL,
	}
}

func (s *Session) setStatus(status Status, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = status
	if status.Terminal() {
		s.stopReason = reason
		now := time.Now()
		s.stoppedAt = &now
	}
}

func (s *Session) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// recordClose folds a closed trade's realized P&L into the aggregates.
func (s *Session) recordClose(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTrades++
	if pnl > 0 {
		s.winningTrades++
	}
	s.realizedPnL += pnl
}

func (s *Session) setExposure(openTrades, recoveryDepth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openTrades = openTrades
	if recoveryDepth > s.recoveryDepth {
		s.recoveryDepth = recoveryDepth
	}
}

func (s *Session) realized() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedPnL
}
