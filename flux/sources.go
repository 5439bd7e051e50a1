package flux

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tradebot-go/gateway"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/store"
)

// TickerSource 拉取所有订阅交易对的行情；单个交易对失败不影响其他。
type TickerSource struct {
	Exchange gateway.Exchange

	mu    sync.RWMutex
	pairs []market.CurrencyPair
}

// NewTickerSource 创建行情源。
func NewTickerSource(ex gateway.Exchange, pairs []market.CurrencyPair) *TickerSource {
	s := &TickerSource{Exchange: ex}
	s.SetPairs(pairs)
	return s
}

// SetPairs 替换订阅列表（去重，保持顺序）。
func (s *TickerSource) SetPairs(pairs []market.CurrencyPair) {
	seen := make(map[market.CurrencyPair]struct{}, len(pairs))
	uniq := make([]market.CurrencyPair, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	s.mu.Lock()
	s.pairs = uniq
	s.mu.Unlock()
}

// Pairs 返回当前订阅列表。
func (s *TickerSource) Pairs() []market.CurrencyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]market.CurrencyPair(nil), s.pairs...)
}

func (s *TickerSource) Poll(ctx context.Context) ([]market.Ticker, error) {
	var (
		res  []market.Ticker
		errs []error
	)
	for _, pair := range s.Pairs() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		t, err := s.Exchange.GetTicker(ctx, pair)
		if err != nil {
			errs = append(errs, fmt.Errorf("ticker %s: %w", pair, err))
			continue
		}
		res = append(res, t)
	}
	return res, errors.Join(errs...)
}

// OrderSource 拉取所有本地非终态订单的最新快照。
type OrderSource struct {
	Exchange gateway.Exchange
	Orders   store.OrderRepository
}

func (s OrderSource) Poll(ctx context.Context) ([]order.Order, error) {
	local, err := s.Orders.FindOrdersByStatus(ctx, order.ActiveStatuses...)
	if err != nil {
		return nil, err
	}
	var (
		res  []order.Order
		errs []error
	)
	for _, o := range local {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		snap, err := s.Exchange.GetOrder(ctx, o.ID)
		if errors.Is(err, gateway.ErrOrderNotFound) {
			// 交易所尚未可见，下一轮再看
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", o.ID, err))
			continue
		}
		res = append(res, snap)
	}
	return res, errors.Join(errs...)
}

// TradeSource 拉取活动订单以及未平仓仓位引用的订单的成交。
type TradeSource struct {
	Exchange  gateway.Exchange
	Orders    store.OrderRepository
	Positions store.PositionRepository
}

func (s TradeSource) Poll(ctx context.Context) ([]order.Trade, error) {
	ids, err := s.orderIDs(ctx)
	if err != nil {
		return nil, err
	}
	var (
		res  []order.Trade
		errs []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		trades, err := s.Exchange.GetTrades(ctx, id)
		if errors.Is(err, gateway.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("trades %s: %w", id, err))
			continue
		}
		res = append(res, trades...)
	}
	return res, errors.Join(errs...)
}

func (s TradeSource) orderIDs(ctx context.Context) ([]string, error) {
	active, err := s.Orders.FindOrdersByStatus(ctx, order.ActiveStatuses...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, o := range active {
		add(o.ID)
	}
	if s.Positions != nil {
		live, err := s.Positions.FindPositionsByStatus(ctx, position.LiveStatuses...)
		if err != nil {
			return nil, err
		}
		for _, p := range live {
			add(p.OpeningOrderID)
			add(p.ClosingOrderID)
		}
	}
	return ids, nil
}
