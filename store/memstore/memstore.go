// Package memstore 内存版仓储实现，用于测试与 dry-run。
package memstore

import (
	"context"
	"sort"
	"sync"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/store"
)

// Store 以 map 保存所有记录，读写均加锁并返回副本。
type Store struct {
	mu        sync.RWMutex
	orders    map[string]order.Order
	trades    map[string]order.Trade
	positions map[string]position.Position
	tickers   map[market.CurrencyPair]market.Ticker
	history   []market.Ticker

	// saveErr 非空时所有写操作返回该错误（用于模拟持久化故障）
	saveErr error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:    make(map[string]order.Order),
		trades:    make(map[string]order.Trade),
		positions: make(map[string]position.Position),
		tickers:   make(map[market.CurrencyPair]market.Ticker),
	}
}

// SetSaveError 设置写入故障；传 nil 恢复。
func (s *Store) SetSaveError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// TickerHistory 返回所有已保存的行情（按保存顺序）。
func (s *Store) TickerHistory() []market.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]market.Ticker(nil), s.history...)
}

func (s *Store) Orders() store.OrderRepository       { return orderRepo{s} }
func (s *Store) Trades() store.TradeRepository       { return tradeRepo{s} }
func (s *Store) Positions() store.PositionRepository { return positionRepo{s} }
func (s *Store) Tickers() store.TickerRepository     { return tickerRepo{s} }
func (s *Store) Close() error                        { return nil }

// --------------------- orders -------------------------

type orderRepo struct{ s *Store }

func (r orderRepo) SaveOrder(_ context.Context, o order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.saveErr != nil {
		return store.Wrap("save order", r.s.saveErr)
	}
	r.s.orders[o.ID] = o
	return nil
}

func (r orderRepo) FindOrder(_ context.Context, id string) (order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return order.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (r orderRepo) FindOrdersByStatus(_ context.Context, statuses ...order.Status) ([]order.Order, error) {
	want := make(map[order.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res := make([]order.Order, 0)
	for _, o := range r.s.orders {
		if want[o.Status] {
			res = append(res, o)
		}
	}
	sortOrders(res)
	return res, nil
}

func (r orderRepo) FindOrdersByStrategy(_ context.Context, strategyID string) ([]order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res := make([]order.Order, 0)
	for _, o := range r.s.orders {
		if o.StrategyID == strategyID {
			res = append(res, o)
		}
	}
	sortOrders(res)
	return res, nil
}

func sortOrders(orders []order.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

// --------------------- trades -------------------------

type tradeRepo struct{ s *Store }

func (r tradeRepo) SaveTrade(_ context.Context, t order.Trade) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.saveErr != nil {
		return store.Wrap("save trade", r.s.saveErr)
	}
	if _, exists := r.s.trades[t.ID]; exists {
		return nil
	}
	r.s.trades[t.ID] = t
	return nil
}

func (r tradeRepo) FindTrade(_ context.Context, id string) (order.Trade, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.trades[id]
	if !ok {
		return order.Trade{}, store.ErrNotFound
	}
	return t, nil
}

func (r tradeRepo) FindTradesByOrder(_ context.Context, orderID string) ([]order.Trade, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res := make([]order.Trade, 0)
	for _, t := range r.s.trades {
		if t.OrderID == orderID {
			res = append(res, t)
		}
	}
	order.SortTrades(res)
	return res, nil
}

// --------------------- positions -------------------------

type positionRepo struct{ s *Store }

func (r positionRepo) SavePosition(_ context.Context, p position.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.saveErr != nil {
		return store.Wrap("save position", r.s.saveErr)
	}
	r.s.positions[p.ID] = p
	return nil
}

func (r positionRepo) FindPosition(_ context.Context, id string) (position.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.positions[id]
	if !ok {
		return position.Position{}, store.ErrNotFound
	}
	return p, nil
}

func (r positionRepo) FindPositionsByStatus(_ context.Context, statuses ...position.Status) ([]position.Position, error) {
	want := make(map[position.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return r.filter(func(p position.Position) bool { return want[p.Status] }), nil
}

func (r positionRepo) FindPositionByOrder(_ context.Context, orderID string) (position.Position, error) {
	found := r.filter(func(p position.Position) bool { return p.OwnsOrder(orderID) })
	if len(found) == 0 {
		return position.Position{}, store.ErrNotFound
	}
	return found[0], nil
}

func (r positionRepo) FindPositionsByStrategy(_ context.Context, strategyID string) ([]position.Position, error) {
	return r.filter(func(p position.Position) bool { return p.StrategyID == strategyID }), nil
}

func (r positionRepo) filter(keep func(position.Position) bool) []position.Position {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res := make([]position.Position, 0)
	for _, p := range r.s.positions {
		if keep(p) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

// --------------------- tickers -------------------------

type tickerRepo struct{ s *Store }

func (r tickerRepo) SaveTicker(_ context.Context, t market.Ticker) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.saveErr != nil {
		return store.Wrap("save ticker", r.s.saveErr)
	}
	if last, ok := r.s.tickers[t.Pair]; ok && !t.NewerThan(last) {
		return nil
	}
	r.s.tickers[t.Pair] = t
	r.s.history = append(r.s.history, t)
	return nil
}

func (r tickerRepo) LastTicker(_ context.Context, pair market.CurrencyPair) (market.Ticker, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tickers[pair]
	if !ok {
		return market.Ticker{}, store.ErrNotFound
	}
	return t, nil
}
