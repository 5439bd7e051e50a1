package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/store"
)

// Config 数据库配置
type Config struct {
	Type            string        // sqlite, postgres
	DSN             string        // sqlite 为文件路径，postgres 为连接串
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// Store implements every repository using Gorm.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open 打开数据库并自动迁移表结构。
func Open(cfg Config) (*Store, error) {
	dialector, err := newDialector(cfg)
	if err != nil {
		return nil, err
	}

	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&orderModel{}, &tradeModel{}, &positionModel{}, &tickerModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	} else if cfg.Type == "sqlite" || cfg.Type == "" {
		// SQLite + WAL：少量并发读，写锁争用保持在低水平
		sqlDB.SetMaxOpenConns(2)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Store{db: db}, nil
}

func newDialector(cfg Config) (gorm.Dialector, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	switch cfg.Type {
	case "", "sqlite":
		if dsn == "" {
			return nil, errors.New("gormstore: sqlite path is required")
		}
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		return sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dsn)), nil
	case "postgres", "postgresql":
		if dsn == "" {
			return nil, errors.New("gormstore: postgres dsn is required")
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
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

func (s *Store) Orders() store.OrderRepository       { return orderRepo{s.db} }
func (s *Store) Trades() store.TradeRepository       { return tradeRepo{s.db} }
func (s *Store) Positions() store.PositionRepository { return positionRepo{s.db} }
func (s *Store) Tickers() store.TickerRepository     { return tickerRepo{s.db} }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

// --------------------- orders -------------------------

type orderRepo struct{ db *gorm.DB }

func (r orderRepo) SaveOrder(ctx context.Context, o order.Order) error {
	m := newOrderModel(o)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	return store.Wrap("save order", err)
}

func (r orderRepo) FindOrder(ctx context.Context, id string) (order.Order, error) {
	var m orderModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return order.Order{}, store.Wrap("find order", notFound(err))
	}
	return m.toOrder(), nil
}

func (r orderRepo) FindOrdersByStatus(ctx context.Context, statuses ...order.Status) ([]order.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}
	var models []orderModel
	err := r.db.WithContext(ctx).Where("status IN ?", values).Order("created_at asc, id asc").Find(&models).Error
	if err != nil {
		return nil, store.Wrap("find orders by status", err)
	}
	return toOrders(models), nil
}

func (r orderRepo) FindOrdersByStrategy(ctx context.Context, strategyID string) ([]order.Order, error) {
	var models []orderModel
	err := r.db.WithContext(ctx).Where("strategy_id = ?", strategyID).Order("created_at asc, id asc").Find(&models).Error
	if err != nil {
		return nil, store.Wrap("find orders by strategy", err)
	}
	return toOrders(models), nil
}

func toOrders(models []orderModel) []order.Order {
	res := make([]order.Order, 0, len(models))
	for _, m := range models {
		res = append(res, m.toOrder())
	}
	return res
}

// --------------------- trades -------------------------

type tradeRepo struct{ db *gorm.DB }

// SaveTrade 成交只追加，重复 id 忽略。
func (r tradeRepo) SaveTrade(ctx context.Context, t order.Trade) error {
	m := newTradeModel(t)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
	return store.Wrap("save trade", err)
}

func (r tradeRepo) FindTrade(ctx context.Context, id string) (order.Trade, error) {
	var m tradeModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return order.Trade{}, store.Wrap("find trade", notFound(err))
	}
	return m.toTrade(), nil
}

func (r tradeRepo) FindTradesByOrder(ctx context.Context, orderID string) ([]order.Trade, error) {
	var models []tradeModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("timestamp asc, id asc").Find(&models).Error
	if err != nil {
		return nil, store.Wrap("find trades by order", err)
	}
	res := make([]order.Trade, 0, len(models))
	for _, m := range models {
		res = append(res, m.toTrade())
	}
	return res, nil
}

// --------------------- positions -------------------------

type positionRepo struct{ db *gorm.DB }

func (r positionRepo) SavePosition(ctx context.Context, p position.Position) error {
	m := newPositionModel(p)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	return store.Wrap("save position", err)
}

func (r positionRepo) FindPosition(ctx context.Context, id string) (position.Position, error) {
	var m positionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return position.Position{}, store.Wrap("find position", notFound(err))
	}
	return m.toPosition(), nil
}

func (r positionRepo) FindPositionsByStatus(ctx context.Context, statuses ...position.Status) ([]position.Position, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}
	return r.find(ctx, "find positions by status", "status IN ?", values)
}

func (r positionRepo) FindPositionByOrder(ctx context.Context, orderID string) (position.Position, error) {
	if orderID == "" {
		return position.Position{}, store.ErrNotFound
	}
	var m positionModel
	err := r.db.WithContext(ctx).
		Where("opening_order_id = ? OR closing_order_id = ?", orderID, orderID).
		First(&m).Error
	if err != nil {
		return position.Position{}, store.Wrap("find position by order", notFound(err))
	}
	return m.toPosition(), nil
}

func (r positionRepo) FindPositionsByStrategy(ctx context.Context, strategyID string) ([]position.Position, error) {
	return r.find(ctx, "find positions by strategy", "strategy_id = ?", strategyID)
}

func (r positionRepo) find(ctx context.Context, op string, query string, args ...interface{}) ([]position.Position, error) {
	var models []positionModel
	if err := r.db.WithContext(ctx).Where(query, args...).Order("created_at asc, id asc").Find(&models).Error; err != nil {
		return nil, store.Wrap(op, err)
	}
	res := make([]position.Position, 0, len(models))
	for _, m := range models {
		res = append(res, m.toPosition())
	}
	return res, nil
}

// --------------------- tickers -------------------------

type tickerRepo struct{ db *gorm.DB }

// SaveTicker 只有比已存最新行情更新的快照才会写入。
func (r tickerRepo) SaveTicker(ctx context.Context, t market.Ticker) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last tickerModel
		err := tx.Where("pair = ?", t.Pair.String()).Order("timestamp desc").Limit(1).Find(&last).Error
		if err != nil {
			return err
		}
		if last.ID != 0 && !t.Timestamp.After(last.Timestamp) {
			return nil
		}
		m := newTickerModel(t)
		return tx.Create(&m).Error
	})
	return store.Wrap("save ticker", err)
}

func (r tickerRepo) LastTicker(ctx context.Context, pair market.CurrencyPair) (market.Ticker, error) {
	var m tickerModel
	err := r.db.WithContext(ctx).Where("pair = ?", pair.String()).Order("timestamp desc").First(&m).Error
	if err != nil {
		return market.Ticker{}, store.Wrap("last ticker", notFound(err))
	}
	return m.toTicker(), nil
}
