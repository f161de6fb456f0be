package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdenHM/algo-trading/internal/store"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "algotrader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStrategyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := store.StrategyRecord{
		ID:             uuid.NewString(),
		Name:           "eurusd-martingale",
		Symbol:         "eurusd",
		Kind:           "martingale",
		InitialLotSize: 0.01,
		MaxLotSize:     0.08,
		LotMultiplier:  2,
		RecoveryStep:   20,
		TakeProfit:     15,
		StopLoss:       50,
		PipSize:        0.0001,
		MaxTrades:      5,
		MaxDrawdown:    500,
		Interval:       2 * time.Second,
	}
	require.NoError(t, s.SaveStrategy(ctx, rec))

	got, ok, err := s.GetStrategy(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "EURUSD", got.Symbol, "symbol is normalized on write")
	assert.Equal(t, rec.InitialLotSize, got.InitialLotSize)
	assert.Equal(t, rec.Interval, got.Interval)

	// upsert by id
	rec.MaxTrades = 7
	require.NoError(t, s.SaveStrategy(ctx, rec))
	got, ok, err = s.GetStrategy(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got.MaxTrades)

	all, err := s.ListStrategies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetStrategyMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetStrategy(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := store.SessionRecord{
		ID:         uuid.NewString(),
		StrategyID: uuid.NewString(),
		Symbol:     "EURUSD",
		Status:     "active",
		StartedAt:  time.Now(),
	}
	require.NoError(t, s.SaveSession(ctx, rec))

	stopped := time.Now()
	rec.Status = "stopped"
	rec.StopReason = "drawdown"
	rec.TradesOpened = 3
	rec.RealizedPnL = -512.5
	rec.StoppedAt = &stopped
	require.NoError(t, s.SaveSession(ctx, rec))

	got, ok, err := s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stopped", got.Status)
	assert.Equal(t, "drawdown", got.StopReason)
	assert.Equal(t, 3, got.TradesOpened)
	assert.InDelta(t, -512.5, got.RealizedPnL, 1e-9)
	require.NotNil(t, got.StoppedAt)
}

func TestListSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		rec := store.SessionRecord{
			ID:        uuid.NewString(),
			Symbol:    "EURUSD",
			Status:    "stopped",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveSession(ctx, rec))
		ids = append(ids, rec.ID)
	}

	got, err := s.ListSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestTradeUpsertByTicket(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessionID := uuid.NewString()

	rec := store.TradeRecord{
		SessionID:     sessionID,
		Ticket:        "SIM-000001",
		Symbol:        "EURUSD",
		Side:          "buy",
		Volume:        0.02,
		OpenPrice:     1.0850,
		Status:        "open",
		RecoveryLevel: 1,
		IsRecovery:    true,
		OpenedAt:      time.Now(),
	}
	require.NoError(t, s.SaveTrade(ctx, rec))

	closed := time.Now()
	rec.Status = "closed"
	rec.ClosePrice = 1.0830
	rec.ProfitLoss = -40
	rec.ClosedAt = &closed
	require.NoError(t, s.SaveTrade(ctx, rec))

	trades, err := s.ListSessionTrades(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	got := trades[0]
	assert.Equal(t, "closed", got.Status)
	assert.InDelta(t, -40, got.ProfitLoss, 1e-9)
	assert.True(t, got.IsRecovery)
	assert.Equal(t, 1, got.RecoveryLevel)
	require.NotNil(t, got.ClosedAt)
}

func TestSameTicketAcrossSessions(t *testing.T) {
	// ticket uniqueness is per session: the sim broker restarts numbering
	ctx := context.Background()
	s := newTestStore(t)

	for _, sid := range []string{uuid.NewString(), uuid.NewString()} {
		require.NoError(t, s.SaveTrade(ctx, store.TradeRecord{
			SessionID: sid,
			Ticket:    "SIM-000001",
			Symbol:    "EURUSD",
			Side:      "buy",
			Volume:    0.01,
			Status:    "open",
			OpenedAt:  time.Now(),
		}))
	}
}

func TestLogsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessionID := uuid.NewString()

	require.NoError(t, s.AppendLog(ctx, store.LogRecord{
		SessionID: sessionID,
		Level:     "info",
		Event:     "session-started",
		Message:   "session activated",
	}))
	require.NoError(t, s.AppendLog(ctx, store.LogRecord{
		SessionID: sessionID,
		Level:     "warn",
		Event:     "risk-stop",
		Message:   "drawdown limit breached",
		Extra:     map[string]any{"reason": "drawdown", "loss": -512.5},
	}))

	logs, err := s.ListSessionLogs(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// newest first
	assert.Equal(t, "risk-stop", logs[0].Event)
	assert.Equal(t, "drawdown", logs[0].Extra["reason"])
	assert.Equal(t, "session-started", logs[1].Event)
}
