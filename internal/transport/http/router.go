package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/snowdenHM/algo-trading/internal/broker"
	"github.com/snowdenHM/algo-trading/internal/engine"
	"github.com/snowdenHM/algo-trading/internal/store"
)

// Router exposes the session, strategy and broker query endpoints.
type Router struct {
	registry *engine.Registry
	broker   broker.Broker
	store    store.Store
}

func NewRouter(registry *engine.Registry, brk broker.Broker, st store.Store) *Router {
	return &Router{registry: registry, broker: brk, store: st}
}

// Register mounts the API under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/sessions/start", r.handleStartSession)
	group.POST("/sessions/:id/stop", r.handleStopSession)
	group.GET("/sessions/:id", r.handleGetSession)
	group.GET("/sessions", r.handleListSessions)
	group.GET("/sessions/:id/trades", r.handleSessionTrades)
	group.GET("/sessions/:id/logs", r.handleSessionLogs)

	group.GET("/strategies", r.handleListStrategies)
	group.POST("/strategies", r.handleCreateStrategy)

	group.GET("/broker/quote/:symbol", r.handleQuote)
	group.GET("/broker/positions", r.handlePositions)
	group.GET("/broker/history", r.handleHistory)
}

type startSessionRequest struct {
	StrategyID string `json:"strategy_id" binding:"required"`
	Name       string `json:"name"`
}

func (r *Router) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := r.registry.StartSession(c.Request.Context(), req.StrategyID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, engine.ErrStrategyNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, snap)
}

type stopSessionRequest struct {
	ClosePositions bool `json:"close_positions"`
}

func (r *Router) handleStopSession(c *gin.Context) {
	var req stopSessionRequest
	// body is optional; default leaves positions open
	_ = c.ShouldBindJSON(&req)

	snap, err := r.registry.StopSession(c.Request.Context(), c.Param("id"), req.ClosePositions)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, engine.ErrShutdownTimeout):
			// the loop keeps winding down; tell the caller it did not confirm
			c.JSON(http.StatusAccepted, gin.H{"session": snap, "warning": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleGetSession(c *gin.Context) {
	snap, err := r.registry.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": r.registry.ListSessions(c.Query("strategy_id"))})
}

func (r *Router) handleSessionTrades(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no store configured"})
		return
	}
	trades, err := r.store.ListSessionTrades(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleSessionLogs(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no store configured"})
		return
	}
	logs, err := r.store.ListSessionLogs(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 200))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (r *Router) handleListStrategies(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no store configured"})
		return
	}
	strategies, err := r.store.ListStrategies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": strategies})
}

type createStrategyRequest struct {
	Name           string  `json:"name" binding:"required"`
	Symbol         string  `json:"symbol" binding:"required"`
	Side           string  `json:"side"`
	Kind           string  `json:"kind"`
	InitialLotSize float64 `json:"initial_lot_size" binding:"required"`
	MaxLotSize     float64 `json:"max_lot_size" binding:"required"`
	LotMultiplier  float64 `json:"lot_multiplier"`
	RecoveryStep   float64 `json:"recovery_step_pips" binding:"required"`
	TakeProfit     float64 `json:"take_profit_pips"`
	StopLoss       float64 `json:"stop_loss_pips"`
	PipSize        float64 `json:"pip_size"`
	MaxTrades      int     `json:"max_trades" binding:"required"`
	MaxDrawdown    float64 `json:"max_drawdown" binding:"required"`
	PerTradeRisk   float64 `json:"per_trade_risk_pct"`
	IntervalMS     int64   `json:"interval_ms"`
}

func (r *Router) handleCreateStrategy(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no store configured"})
		return
	}
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec := store.StrategyRecord{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Kind:           req.Kind,
		InitialLotSize: req.InitialLotSize,
		MaxLotSize:     req.MaxLotSize,
		LotMultiplier:  req.LotMultiplier,
		RecoveryStep:   req.RecoveryStep,
		TakeProfit:     req.TakeProfit,
		StopLoss:       req.StopLoss,
		PipSize:        req.PipSize,
		MaxTrades:      req.MaxTrades,
		MaxDrawdown:    req.MaxDrawdown,
		PerTradeRisk:   req.PerTradeRisk,
		Interval:       time.Duration(req.IntervalMS) * time.Millisecond,
	}
	// reject invalid configurations before they can ever start a session
	if err := engine.StrategyFromRecord(rec).WithDefaults().Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.store.SaveStrategy(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (r *Router) handleQuote(c *gin.Context) {
	quote, err := r.broker.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		if errors.Is(err, broker.ErrUnknownSymbol) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (r *Router) handlePositions(c *gin.Context) {
	positions, err := r.broker.ListOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (r *Router) handleHistory(c *gin.Context) {
	history, err := r.broker.TradeHistory(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
