package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdenHM/algo-trading/internal/store"
)

// memStore keeps records in maps; enough for registry behavior tests.
type memStore struct {
	mu         sync.Mutex
	strategies map[string]store.StrategyRecord
	sessions   map[string]store.SessionRecord
	trades     map[string][]store.TradeRecord
	logs       map[string][]store.LogRecord
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		strategies: make(map[string]store.StrategyRecord),
		sessions:   make(map[string]store.SessionRecord),
		trades:     make(map[string][]store.TradeRecord),
		logs:       make(map[string][]store.LogRecord),
	}
}

func (m *memStore) SaveStrategy(ctx context.Context, rec store.StrategyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[rec.ID] = rec
	return nil
}

func (m *memStore) GetStrategy(ctx context.Context, id string) (store.StrategyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.strategies[id]
	return rec, ok, nil
}

func (m *memStore) ListStrategies(ctx context.Context) ([]store.StrategyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.StrategyRecord, 0, len(m.strategies))
	for _, rec := range m.strategies {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = rec
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string) (store.SessionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	return rec, ok, nil
}

func (m *memStore) ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) SaveTrade(ctx context.Context, rec store.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.trades[rec.SessionID] {
		if existing.Ticket == rec.Ticket {
			m.trades[rec.SessionID][i] = rec
			return nil
		}
	}
	m.trades[rec.SessionID] = append(m.trades[rec.SessionID], rec)
	return nil
}

func (m *memStore) ListSessionTrades(ctx context.Context, sessionID string, limit int) ([]store.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.TradeRecord(nil), m.trades[sessionID]...), nil
}

func (m *memStore) AppendLog(ctx context.Context, rec store.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[rec.SessionID] = append(m.logs[rec.SessionID], rec)
	return nil
}

func (m *memStore) ListSessionLogs(ctx context.Context, sessionID string, limit int) ([]store.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.LogRecord(nil), m.logs[sessionID]...), nil
}

func (m *memStore) Close() error { return nil }

func seedStrategy(t *testing.T, st *memStore) store.StrategyRecord {
	t.Helper()
	rec := store.StrategyRecord{
		ID:             "strat-1",
		Name:           "eurusd-martingale",
		Symbol:         "EURUSD",
		Side:           "buy",
		Kind:           "martingale",
		InitialLotSize: 0.01,
		MaxLotSize:     0.08,
		LotMultiplier:  2,
		RecoveryStep:   50,
		PipSize:        0.0001,
		MaxTrades:      10,
		MaxDrawdown:    10_000,
		Interval:       5 * time.Millisecond,
	}
	require.NoError(t, st.SaveStrategy(context.Background(), rec))
	return rec
}

func newTestRegistry(t *testing.T, fake *fakeBroker, st *memStore) *Registry {
	t.Helper()
	reg := NewRegistry(fake, st, Options{ShutdownTimeout: time.Second})
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })
	return reg
}

func TestStartSessionRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedStrategy(t, st)
	reg := newTestRegistry(t, newFakeBroker(1.1000, 1.1001), st)

	first, err := reg.StartSession(ctx, "strat-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = reg.StartSession(ctx, "strat-1", "")
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestStartSessionAfterTerminalAllowed(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedStrategy(t, st)
	reg := newTestRegistry(t, newFakeBroker(1.1000, 1.1001), st)

	first, err := reg.StartSession(ctx, "strat-1", "")
	require.NoError(t, err)
	_, err = reg.StopSession(ctx, first.ID, true)
	require.NoError(t, err)

	second, err := reg.StartSession(ctx, "strat-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStartSessionUnknownStrategy(t *testing.T) {
	st := newMemStore()
	reg := newTestRegistry(t, newFakeBroker(1.1000, 1.1001), st)

	_, err := reg.StartSession(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrStrategyNotFound)
}

func TestStopSessionLeavesPositionsWhenAsked(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedStrategy(t, st)
	fake := newFakeBroker(1.1000, 1.1001)
	reg := newTestRegistry(t, fake, st)

	snap, err := reg.StartSession(ctx, "strat-1", "scenario-d")
	require.NoError(t, err)
	waitFor(t, func() bool { return fake.openCount() == 1 }, "initial position")

	stopped, err := reg.StopSession(ctx, snap.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)
	assert.Equal(t, 1, fake.openCount(), "position survives a closePositions=false stop")
}

func TestStopSessionUnknown(t *testing.T) {
	st := newMemStore()
	reg := newTestRegistry(t, newFakeBroker(1.1000, 1.1001), st)

	_, err := reg.StopSession(context.Background(), "nope", false)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStopSessionTimesOutOnStuckBroker(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedStrategy(t, st)
	fake := newFakeBroker(1.1000, 1.1001)
	gate := make(chan struct{})
	fake.quoteGate = gate
	defer close(gate)

	reg := NewRegistry(fake, st, Options{ShutdownTimeout: 50 * time.Millisecond})

	snap, err := reg.StartSession(ctx, "strat-1", "")
	require.NoError(t, err)

	// the tick is stuck inside the broker call, so the stop signal is
	// never observed within the bounded wait
	_, err = reg.StopSession(ctx, snap.ID, false)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	stopped := time.Now()
	require.NoError(t, st.SaveSession(ctx, store.SessionRecord{
		ID:         "old-session",
		StrategyID: "strat-1",
		Symbol:     "EURUSD",
		Status:     "stopped",
		StopReason: "drawdown",
		StartedAt:  stopped.Add(-time.Hour),
		StoppedAt:  &stopped,
	}))
	reg := newTestRegistry(t, newFakeBroker(1.1000, 1.1001), st)

	snap, err := reg.GetStatus(ctx, "old-session")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, snap.Status)
	assert.Equal(t, "drawdown", snap.StopReason)

	_, err = reg.GetStatus(ctx, "never-existed")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionsFiltersByStrategy(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedStrategy(t, st)
	other := store.StrategyRecord{
		ID:             "strat-2",
		Name:           "gbpusd-martingale",
		Symbol:         "GBPUSD",
		Side:           "sell",
		Kind:           "martingale",
		InitialLotSize: 0.01,
		MaxLotSize:     0.04,
		RecoveryStep:   30,
		MaxTrades:      5,
		MaxDrawdown:    500,
		Interval:       5 * time.Millisecond,
	}
	require.NoError(t, st.SaveStrategy(ctx, other))

	fake := newFakeBroker(1.1000, 1.1001)
	reg := newTestRegistry(t, fake, st)

	_, err := reg.StartSession(ctx, "strat-1", "")
	require.NoError(t, err)
	_, err = reg.StartSession(ctx, "strat-2", "")
	require.NoError(t, err)

	all := reg.ListSessions("")
	assert.Len(t, all, 2)

	only := reg.ListSessions("strat-2")
	require.Len(t, only, 1)
	assert.Equal(t, "strat-2", only[0].StrategyID)
}

func TestSessionLifecyclePersisted(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedStrategy(t, st)
	fake := newFakeBroker(1.1000, 1.1001)
	reg := newTestRegistry(t, fake, st)

	snap, err := reg.StartSession(ctx, "strat-1", "persist-check")
	require.NoError(t, err)
	waitFor(t, func() bool { return fake.openCount() == 1 }, "initial position")

	_, err = reg.StopSession(ctx, snap.ID, true)
	require.NoError(t, err)

	rec, ok, err := st.GetSession(ctx, snap.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stopped", rec.Status)
	assert.Equal(t, "persist-check", rec.Name)

	trades, err := st.ListSessionTrades(ctx, snap.ID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "closed", trades[0].Status)

	logs, err := st.ListSessionLogs(ctx, snap.ID, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}
