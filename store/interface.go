// Package store defines the repositories the engine reads and writes through.
// Repositories are the single source of truth; callers must not keep private
// caches that could diverge from persisted state.
package store

import (
	"context"
	"errors"
	"fmt"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
)

// ErrNotFound is returned by Find* methods when no record matches.
var ErrNotFound = errors.New("record not found")

// PersistenceError wraps a failed repository call. The caller retries the same
// item on the next poll tick.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap returns nil for nil errors, passes ErrNotFound through untouched and
// wraps everything else in a PersistenceError.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// OrderRepository handles order persistence.
type OrderRepository interface {
	SaveOrder(ctx context.Context, o order.Order) error
	FindOrder(ctx context.Context, id string) (order.Order, error)
	FindOrdersByStatus(ctx context.Context, statuses ...order.Status) ([]order.Order, error)
	FindOrdersByStrategy(ctx context.Context, strategyID string) ([]order.Order, error)
}

// TradeRepository handles trade persistence. Trades are append-only.
type TradeRepository interface {
	SaveTrade(ctx context.Context, t order.Trade) error
	FindTrade(ctx context.Context, id string) (order.Trade, error)
	// FindTradesByOrder returns trades ordered by exchange timestamp.
	FindTradesByOrder(ctx context.Context, orderID string) ([]order.Trade, error)
}

// PositionRepository handles position persistence. Positions are never deleted.
type PositionRepository interface {
	SavePosition(ctx context.Context, p position.Position) error
	FindPosition(ctx context.Context, id string) (position.Position, error)
	FindPositionsByStatus(ctx context.Context, statuses ...position.Status) ([]position.Position, error)
	FindPositionByOrder(ctx context.Context, orderID string) (position.Position, error)
	FindPositionsByStrategy(ctx context.Context, strategyID string) ([]position.Position, error)
}

// TickerRepository keeps imported tickers; LastTicker returns the newest
// ticker stored for a pair.
type TickerRepository interface {
	SaveTicker(ctx context.Context, t market.Ticker) error
	LastTicker(ctx context.Context, pair market.CurrencyPair) (market.Ticker, error)
}

// Store is the entry point for database access.
type Store interface {
	Orders() OrderRepository
	Trades() TradeRepository
	Positions() PositionRepository
	Tickers() TickerRepository
	Close() error
}
