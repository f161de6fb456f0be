// Package gormstore implements store.Store on Gorm + SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/snowdenHM/algo-trading/internal/store"
	storemodel "github.com/snowdenHM/algo-trading/internal/store/model"
)

type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// New opens (or creates) the sqlite database at path and migrates the
// schema. WAL mode keeps concurrent HTTP reads from blocking the
// runtimes' writes.
func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.StrategyModel{},
		&storemodel.TradingSessionModel{},
		&storemodel.TradeModel{},
		&storemodel.SystemLogModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for reads, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------------- Strategies ---------------------------

func (s *GormStore) SaveStrategy(ctx context.Context, rec store.StrategyRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("strategy id is required")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	model := strategyToModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "symbol", "side", "kind", "initial_lot_size", "max_lot_size",
				"lot_multiplier", "recovery_step_pips", "take_profit_pips",
				"stop_loss_pips", "pip_size", "max_trades", "max_drawdown",
				"per_trade_risk", "interval_ms", "updated_at",
			}),
		}).
		Create(&model).Error
}

func (s *GormStore) GetStrategy(ctx context.Context, id string) (store.StrategyRecord, bool, error) {
	var model storemodel.StrategyModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.StrategyRecord{}, false, nil
		}
		return store.StrategyRecord{}, false, err
	}
	return strategyToRecord(model), true, nil
}

func (s *GormStore) ListStrategies(ctx context.Context) ([]store.StrategyRecord, error) {
	var models []storemodel.StrategyModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.StrategyRecord, 0, len(models))
	for _, m := range models {
		out = append(out, strategyToRecord(m))
	}
	return out, nil
}

// --------------------------- Sessions ---------------------------

func (s *GormStore) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is required")
	}
	model := sessionToModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "stop_reason", "trades_opened", "trades_closed",
				"winning_trades", "recovery_depth", "realized_pnl",
				"stopped_at", "updated_at",
			}),
		}).
		Create(&model).Error
}

func (s *GormStore) GetSession(ctx context.Context, id string) (store.SessionRecord, bool, error) {
	var model storemodel.TradingSessionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.SessionRecord{}, false, nil
		}
		return store.SessionRecord{}, false, err
	}
	return sessionToRecord(model), true, nil
}

func (s *GormStore) ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []storemodel.TradingSessionModel
	if err := s.db.WithContext(ctx).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.SessionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, sessionToRecord(m))
	}
	return out, nil
}

// --------------------------- Trades ---------------------------

func (s *GormStore) SaveTrade(ctx context.Context, rec store.TradeRecord) error {
	if rec.SessionID == "" || rec.Ticket == "" {
		return fmt.Errorf("trade requires session id and ticket")
	}
	model := tradeToModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "ticket"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"close_price", "stop_loss", "take_profit", "status",
				"profit_loss", "closed_at", "updated_at",
			}),
		}).
		Create(&model).Error
}

func (s *GormStore) ListSessionTrades(ctx context.Context, sessionID string, limit int) ([]store.TradeRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []storemodel.TradeModel
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("opened_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeToRecord(m))
	}
	return out, nil
}

// --------------------------- Logs ---------------------------

func (s *GormStore) AppendLog(ctx context.Context, rec store.LogRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var extra datatypes.JSON
	if len(rec.Extra) > 0 {
		raw, err := json.Marshal(rec.Extra)
		if err != nil {
			return err
		}
		extra = datatypes.JSON(raw)
	}
	model := storemodel.SystemLogModel{
		SessionID:     rec.SessionID,
		Level:         rec.Level,
		Event:         rec.Event,
		Message:       rec.Message,
		Extra:         extra,
		CreatedAtUnix: rec.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListSessionLogs(ctx context.Context, sessionID string, limit int) ([]store.LogRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var models []storemodel.SystemLogModel
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.LogRecord, 0, len(models))
	for _, m := range models {
		rec := store.LogRecord{
			SessionID: m.SessionID,
			Level:     m.Level,
			Event:     m.Event,
			Message:   m.Message,
			CreatedAt: time.UnixMilli(m.CreatedAtUnix),
		}
		if len(m.Extra) > 0 {
			_ = json.Unmarshal(m.Extra, &rec.Extra)
		}
		out = append(out, rec)
	}
	return out, nil
}

// --------------------------- Conversions ---------------------------

func strategyToModel(rec store.StrategyRecord) storemodel.StrategyModel {
	return storemodel.StrategyModel{
		ID:             rec.ID,
		Name:           strings.TrimSpace(rec.Name),
		Symbol:         strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:           strings.ToLower(strings.TrimSpace(rec.Side)),
		Kind:           rec.Kind,
		InitialLotSize: rec.InitialLotSize,
		MaxLotSize:     rec.MaxLotSize,
		LotMultiplier:  rec.LotMultiplier,
		RecoveryStep:   rec.RecoveryStep,
		TakeProfit:     rec.TakeProfit,
		StopLoss:       rec.StopLoss,
		PipSize:        rec.PipSize,
		MaxTrades:      rec.MaxTrades,
		MaxDrawdown:    rec.MaxDrawdown,
		PerTradeRisk:   rec.PerTradeRisk,
		IntervalMS:     rec.Interval.Milliseconds(),
		CreatedAtUnix:  rec.CreatedAt.UnixMilli(),
		UpdatedAtUnix:  rec.UpdatedAt.UnixMilli(),
	}
}

func strategyToRecord(m storemodel.StrategyModel) store.StrategyRecord {
	return store.StrategyRecord{
		ID:             m.ID,
		Name:           m.Name,
		Symbol:         m.Symbol,
		Side:           m.Side,
		Kind:           m.Kind,
		InitialLotSize: m.InitialLotSize,
		MaxLotSize:     m.MaxLotSize,
		LotMultiplier:  m.LotMultiplier,
		RecoveryStep:   m.RecoveryStep,
		TakeProfit:     m.TakeProfit,
		StopLoss:       m.StopLoss,
		PipSize:        m.PipSize,
		MaxTrades:      m.MaxTrades,
		MaxDrawdown:    m.MaxDrawdown,
		PerTradeRisk:   m.PerTradeRisk,
		Interval:       time.Duration(m.IntervalMS) * time.Millisecond,
		CreatedAt:      time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt:      time.UnixMilli(m.UpdatedAtUnix),
	}
}

func sessionToModel(rec store.SessionRecord) storemodel.TradingSessionModel {
	now := time.Now()
	model := storemodel.TradingSessionModel{
		ID:            rec.ID,
		StrategyID:    rec.StrategyID,
		Name:          rec.Name,
		Symbol:        strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Status:        rec.Status,
		StopReason:    rec.StopReason,
		TradesOpened:  rec.TradesOpened,
		TradesClosed:  rec.TradesClosed,
		WinningTrades: rec.WinningTrades,
		RecoveryDepth: rec.RecoveryDepth,
		RealizedPnL:   rec.RealizedPnL,
		StartedAtUnix: rec.StartedAt.UnixMilli(),
		CreatedAtUnix: rec.StartedAt.UnixMilli(),
		UpdatedAtUnix: now.UnixMilli(),
	}
	if rec.StoppedAt != nil && !rec.StoppedAt.IsZero() {
		model.StoppedAtUnix = rec.StoppedAt.UnixMilli()
	}
	return model
}

func sessionToRecord(m storemodel.TradingSessionModel) store.SessionRecord {
	rec := store.SessionRecord{
		ID:            m.ID,
		StrategyID:    m.StrategyID,
		Name:          m.Name,
		Symbol:        m.Symbol,
		Status:        m.Status,
		StopReason:    m.StopReason,
		TradesOpened:  m.TradesOpened,
		TradesClosed:  m.TradesClosed,
		WinningTrades: m.WinningTrades,
		RecoveryDepth: m.RecoveryDepth,
		RealizedPnL:   m.RealizedPnL,
		StartedAt:     time.UnixMilli(m.StartedAtUnix),
	}
	if m.StoppedAtUnix > 0 {
		ts := time.UnixMilli(m.StoppedAtUnix)
		rec.StoppedAt = &ts
	}
	return rec
}

func tradeToModel(rec store.TradeRecord) storemodel.TradeModel {
	now := time.Now()
	model := storemodel.TradeModel{
		SessionID:     rec.SessionID,
		Ticket:        rec.Ticket,
		Symbol:        strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:          rec.Side,
		Volume:        rec.Volume,
		OpenPrice:     rec.OpenPrice,
		ClosePrice:    rec.ClosePrice,
		StopLoss:      rec.StopLoss,
		TakeProfit:    rec.TakeProfit,
		Status:        rec.Status,
		RecoveryLevel: rec.RecoveryLevel,
		IsRecovery:    rec.IsRecovery,
		ProfitLoss:    rec.ProfitLoss,
		OpenedAtUnix:  rec.OpenedAt.UnixMilli(),
		CreatedAtUnix: rec.OpenedAt.UnixMilli(),
		UpdatedAtUnix: now.UnixMilli(),
	}
	if rec.ClosedAt != nil && !rec.ClosedAt.IsZero() {
		model.ClosedAtUnix = rec.ClosedAt.UnixMilli()
	}
	return model
}

func tradeToRecord(m storemodel.TradeModel) store.TradeRecord {
	rec := store.TradeRecord{
		SessionID:     m.SessionID,
		Ticket:        m.Ticket,
		Symbol:        m.Symbol,
		Side:          m.Side,
		Volume:        m.Volume,
		OpenPrice:     m.OpenPrice,
		ClosePrice:    m.ClosePrice,
		StopLoss:      m.StopLoss,
		TakeProfit:    m.TakeProfit,
		Status:        m.Status,
		RecoveryLevel: m.RecoveryLevel,
		IsRecovery:    m.IsRecovery,
		ProfitLoss:    m.ProfitLoss,
		OpenedAt:      time.UnixMilli(m.OpenedAtUnix),
	}
	if m.ClosedAtUnix > 0 {
		ts := time.UnixMilli(m.ClosedAtUnix)
		rec.ClosedAt = &ts
	}
	return rec
}
