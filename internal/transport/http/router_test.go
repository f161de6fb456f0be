package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdenHM/algo-trading/internal/broker"
	"github.com/snowdenHM/algo-trading/internal/broker/sim"
	"github.com/snowdenHM/algo-trading/internal/engine"
	"github.com/snowdenHM/algo-trading/internal/store/gormstore"
)

type apiFixture struct {
	server *Server
	brk    broker.Broker
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := gormstore.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	brk := broker.Serialize(sim.New(sim.Config{Seed: 99}))
	_, err = brk.Connect(context.Background(), broker.Credentials{})
	require.NoError(t, err)

	reg := engine.NewRegistry(brk, st, engine.Options{
		ShutdownTimeout: 2 * time.Second,
		DefaultInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })

	srv, err := NewServer(ServerConfig{Addr: ":0", Registry: reg, Broker: brk, Store: st})
	require.NoError(t, err)
	return &apiFixture{server: srv, brk: brk}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func createStrategy(t *testing.T, f *apiFixture) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/strategies", map[string]any{
		"name":               "eurusd-martingale",
		"symbol":             "EURUSD",
		"side":               "buy",
		"initial_lot_size":   0.01,
		"max_lot_size":       0.08,
		"recovery_step_pips": 50,
		"max_trades":         5,
		"max_drawdown":       500,
		"interval_ms":        5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["ID"].(string)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStrategyCreateAndList(t *testing.T) {
	f := newFixture(t)
	createStrategy(t, f)

	rec := f.do(t, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	strategies := decode(t, rec)["strategies"].([]any)
	assert.Len(t, strategies, 1)
}

func TestStrategyCreateValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/strategies", map[string]any{
		"name":               "broken",
		"symbol":             "EURUSD",
		"initial_lot_size":   0.5,
		"max_lot_size":       0.1, // initial above max
		"recovery_step_pips": 50,
		"max_trades":         5,
		"max_drawdown":       500,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	stratID := createStrategy(t, f)

	rec := f.do(t, http.MethodPost, "/api/sessions/start", map[string]any{"strategy_id": stratID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sessionID := decode(t, rec)["id"].(string)

	// a second start for the same strategy conflicts
	rec = f.do(t, http.MethodPost, "/api/sessions/start", map[string]any{"strategy_id": stratID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
		return rec.Code == http.StatusOK && decode(t, rec)["status"] == "active"
	}, 3*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/stop", map[string]any{"close_positions": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "stopped", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode(t, rec)["sessions"].([]any)
	assert.Len(t, sessions, 1)
}

func TestStartSessionUnknownStrategy(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/sessions/start", map[string]any{"strategy_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopUnknownSession(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/sessions/missing/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrokerQuoteEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/broker/quote/EURUSD", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/broker/quote/XAUUSD", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrokerPositionsAndHistory(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/broker/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/broker/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
