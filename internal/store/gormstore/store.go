package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"traxis/internal/portfolio"
	"traxis/internal/risk"
	"traxis/internal/store/model"
	"traxis/internal/trader"
)

// Store is the SQLite-backed archive. Everything in it is append-only:
// terminal orders, closed positions, risk decisions, portfolio snapshots.
// Live state never lives here; the exchange is the source of truth for that.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
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
		&model.OrderModel{},
		&model.ClosedPositionModel{},
		&model.DecisionModel{},
		&model.PortfolioSnapshotModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for HTTP reads without lock churn.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ trader.Journal = (*Store)(nil)

const writeTimeout = 3 * time.Second

// RecordOrder archives a terminal order. Idempotent per client order ID so a
// reconcile pass re-finalizing an order does not duplicate rows.
func (s *Store) RecordOrder(o trader.Order) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	raw, _ := json.Marshal(o)
	m := model.OrderModel{
		ClientOrderID:    o.ClientOrderID,
		ExchangeOrderID:  o.ExchangeOrderID,
		TraceID:          o.TraceID,
		Role:             string(o.Role),
		Symbol:           o.Symbol,
		Side:             string(o.Side),
		PositionSide:     string(o.PositionSide),
		Type:             string(o.Type),
		ReduceOnly:       o.ReduceOnly,
		Quantity:         o.Quantity,
		ExecutedQuantity: o.ExecutedQuantity,
		AvgFillPrice:     o.AvgFillPrice,
		StopPrice:        o.StopPrice,
		Status:           string(o.Status),
		Recovered:        o.Recovered,
		Raw:              datatypes.JSON(raw),
		CreatedAtMillis:  o.CreatedAt.UnixMilli(),
		UpdatedAtMillis:  o.UpdatedAt.UnixMilli(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	res := s.db.WithContext(ctx).
		Where("client_order_id = ?", o.ClientOrderID).
		Assign(map[string]any{
			"status":            m.Status,
			"executed_quantity": m.ExecutedQuantity,
			"avg_fill_price":    m.AvgFillPrice,
			"raw":               m.Raw,
			"updated_at":        m.UpdatedAtMillis,
		}).
		FirstOrCreate(&m)
	return res.Error
}

// RecordPositionClose archives a position that went flat.
func (s *Store) RecordPositionClose(p portfolio.Position) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	raw, _ := json.Marshal(p)
	m := model.ClosedPositionModel{
		Symbol:         p.Symbol,
		Side:           string(p.Side),
		EntryPrice:     p.EntryPrice,
		ExitPrice:      p.MarkPrice,
		Leverage:       p.Leverage,
		MarginType:     string(p.MarginType),
		Recovered:      p.Recovered,
		Raw:            datatypes.JSON(raw),
		OpenedAtMillis: p.OpenedAt.UnixMilli(),
	}
	if p.ClosedAt != nil {
		m.ClosedAtMillis = p.ClosedAt.UnixMilli()
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.db.WithContext(ctx).Create(&m).Error
}

// RecordDecision archives a risk verdict.
func (s *Store) RecordDecision(ctx context.Context, d risk.Decision) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	adj, _ := json.Marshal(d.Adjustments)
	m := model.DecisionModel{
		TraceID:         d.TraceID,
		Symbol:          d.Symbol,
		Admit:           d.Admit,
		Reason:          string(d.Reason),
		Side:            string(d.Side),
		Quantity:        d.Quantity,
		EntryPrice:      d.EntryPrice,
		StopLoss:        d.StopLoss,
		TakeProfit:      d.TakeProfit,
		RiskReward:      d.RiskRewardRatio,
		ConfigVersion:   d.ConfigVersion,
		Adjustments:     datatypes.JSON(adj),
		CreatedAtMillis: d.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// RecordSnapshot archives a periodic portfolio capture.
func (s *Store) RecordSnapshot(ctx context.Context, p portfolio.Portfolio) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	positions, _ := json.Marshal(p.OpenPositions)
	m := model.PortfolioSnapshotModel{
		Equity:          p.Equity,
		FreeMargin:      p.FreeMargin,
		RealizedPnL:     p.RealizedPnL,
		OpenCount:       len(p.OpenPositions),
		Positions:       datatypes.JSON(positions),
		CreatedAtMillis: p.SnapshotAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ListOrders returns archived orders, newest first, optionally filtered by
// symbol and time range.
func (s *Store) ListOrders(ctx context.Context, symbol string, from, to time.Time, limit int) ([]model.OrderModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: not initialized")
	}
	query := s.db.WithContext(ctx).Model(&model.OrderModel{})
	query = applyWindow(query, symbol, from, to)
	var out []model.OrderModel
	err := query.Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

// ListClosedPositions returns archived closed positions, newest first.
func (s *Store) ListClosedPositions(ctx context.Context, symbol string, from, to time.Time, limit int) ([]model.ClosedPositionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: not initialized")
	}
	query := s.db.WithContext(ctx).Model(&model.ClosedPositionModel{})
	if symbol = strings.ToUpper(strings.TrimSpace(symbol)); symbol != "" {
		query = query.Where("UPPER(symbol) = ?", symbol)
	}
	if !from.IsZero() {
		query = query.Where("closed_at >= ?", from.UnixMilli())
	}
	if !to.IsZero() {
		query = query.Where("closed_at <= ?", to.UnixMilli())
	}
	var out []model.ClosedPositionModel
	err := query.Order("closed_at DESC, id DESC").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

// ListDecisions returns archived risk decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, symbol string, from, to time.Time, limit int) ([]model.DecisionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: not initialized")
	}
	query := s.db.WithContext(ctx).Model(&model.DecisionModel{})
	query = applyWindow(query, symbol, from, to)
	var out []model.DecisionModel
	err := query.Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

// ListSnapshots returns portfolio snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, from, to time.Time, limit int) ([]model.PortfolioSnapshotModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: not initialized")
	}
	query := s.db.WithContext(ctx).Model(&model.PortfolioSnapshotModel{})
	query = applyWindow(query, "", from, to)
	var out []model.PortfolioSnapshotModel
	err := query.Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

func applyWindow(query *gorm.DB, symbol string, from, to time.Time) *gorm.DB {
	if symbol = strings.ToUpper(strings.TrimSpace(symbol)); symbol != "" {
		query = query.Where("UPPER(symbol) = ?", symbol)
	}
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from.UnixMilli())
	}
	if !to.IsZero() {
		query = query.Where("created_at <= ?", to.UnixMilli())
	}
	return query
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
