// Package reconcile 把轮询到的交易所快照与本地持久化状态对账，去重后产出变化事件。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot-go/gateway"
	"tradebot-go/infrastructure/logger"
	"tradebot-go/infrastructure/monitor"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/store"
)

// Config 对账器配置
type Config struct {
	Store      store.Store
	Exchange   gateway.Exchange // 仅 SyncOrderTrades 使用
	Sink       Sink
	Strategies []string // 本进程负责的策略，其他策略的订单视为外部订单
	Logger     *logger.Logger
	Monitor    *monitor.Monitor
}

// Reconciler 订单/成交/行情对账器
type Reconciler struct {
	store    store.Store
	exchange gateway.Exchange
	sink     Sink
	log      *logger.Logger
	mon      *monitor.Monitor
	machine  *order.StateMachine

	trackedMu sync.RWMutex
	tracked   map[string]struct{}

	// 同一类数据的对账串行执行，保证同一快照只产出一次事件
	orderMu  sync.Mutex
	tradeMu  sync.Mutex
	tickerMu sync.Mutex
	lastSeen map[market.CurrencyPair]market.Ticker

	statsMu sync.Mutex
	stats   Stats
}

// Stats 对账统计
type Stats struct {
	OrdersUpdated       int64
	TradesAdded         int64
	TickersStored       int64
	InvariantViolations int64
	LastReconcileTime   time.Time
}

// New 创建对账器
func New(cfg Config) *Reconciler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = func(context.Context, Event) {}
	}
	r := &Reconciler{
		store:    cfg.Store,
		exchange: cfg.Exchange,
		sink:     sink,
		log:      log.Named("reconcile"),
		mon:      cfg.Monitor,
		machine:  order.NewStateMachine(),
		tracked:  make(map[string]struct{}),
		lastSeen: make(map[market.CurrencyPair]market.Ticker),
	}
	r.Track(cfg.Strategies...)
	return r
}

// SetSink 替换事件出口；引擎在装配完成后调用。
func (r *Reconciler) SetSink(sink Sink) {
	if sink == nil {
		return
	}
	r.sink = sink
}

// Track 登记本进程负责的策略。
func (r *Reconciler) Track(strategyIDs ...string) {
	r.trackedMu.Lock()
	defer r.trackedMu.Unlock()
	for _, id := range strategyIDs {
		if id != "" {
			r.tracked[id] = struct{}{}
		}
	}
}

func (r *Reconciler) isTracked(strategyID string) bool {
	r.trackedMu.RLock()
	defer r.trackedMu.RUnlock()
	_, ok := r.tracked[strategyID]
	return ok
}

// Stats 返回统计快照
func (r *Reconciler) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Reconciler) bump(fn func(*Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.stats.LastReconcileTime = time.Now()
	r.statsMu.Unlock()
}

// ReconcileOrders 对账一批订单快照。
func (r *Reconciler) ReconcileOrders(ctx context.Context, snaps []order.Order) error {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	var errs []error
	for _, snap := range snaps {
		if err := r.reconcileOrder(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) reconcileOrder(ctx context.Context, snap order.Order) error {
	local, err := r.store.Orders().FindOrder(ctx, snap.ID)
	if errors.Is(err, store.ErrNotFound) {
		if !r.isTracked(snap.StrategyID) {
			r.log.Debug("ignoring foreign order", zap.String("order_id", snap.ID), zap.String("strategy", snap.StrategyID))
			return nil
		}
		now := time.Now().UTC()
		if snap.CreatedAt.IsZero() {
			snap.CreatedAt = now
		}
		if snap.UpdatedAt.IsZero() {
			snap.UpdatedAt = now
		}
		if err := r.store.Orders().SaveOrder(ctx, snap); err != nil {
			return err
		}
		r.orderUpdated(ctx, snap)
		return nil
	}
	if err != nil {
		return err
	}

	// 终态不可变；状态无变化直接丢弃
	if local.IsTerminal() || local.SameState(snap) {
		return nil
	}
	if err := r.machine.ValidateTransition(local.Status, snap.Status); err != nil {
		r.violation(ctx, &InvariantViolation{Kind: "illegal_transition", Subject: snap.ID, Err: err})
		return nil
	}
	if snap.FilledAmount.LessThan(local.FilledAmount) {
		r.violation(ctx, &InvariantViolation{
			Kind:    "filled_regressed",
			Subject: snap.ID,
			Err:     fmt.Errorf("filled %s -> %s", local.FilledAmount, snap.FilledAmount),
		})
		return nil
	}

	// 只采纳交易所侧字段，策略归属与创建时间保留本地值
	updated := local
	updated.Status = snap.Status
	updated.FilledAmount = snap.FilledAmount
	updated.LastError = snap.LastError
	updated.UpdatedAt = snap.UpdatedAt
	if updated.UpdatedAt.IsZero() {
		updated.UpdatedAt = time.Now().UTC()
	}
	if err := r.store.Orders().SaveOrder(ctx, updated); err != nil {
		return err
	}
	r.orderUpdated(ctx, updated)
	return nil
}

func (r *Reconciler) orderUpdated(ctx context.Context, o order.Order) {
	r.bump(func(s *Stats) { s.OrdersUpdated++ })
	r.mon.RecordOrderUpdated(string(o.Status))
	r.log.LogOrder("updated", o.ID, map[string]interface{}{
		"status": string(o.Status),
		"filled": o.FilledAmount.String(),
	})
	r.sink(ctx, Event{Kind: EventOrderUpdated, Order: o})
}

// ReconcileTrades 对账一批成交，按 (订单, 时间) 排序后逐条处理。
func (r *Reconciler) ReconcileTrades(ctx context.Context, trades []order.Trade) error {
	r.tradeMu.Lock()
	defer r.tradeMu.Unlock()

	sorted := append([]order.Trade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OrderID != sorted[j].OrderID {
			return sorted[i].OrderID < sorted[j].OrderID
		}
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var errs []error
	for _, t := range sorted {
		if err := r.reconcileTrade(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) reconcileTrade(ctx context.Context, t order.Trade) error {
	_, err := r.store.Trades().FindTrade(ctx, t.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := r.store.Orders().FindOrder(ctx, t.OrderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.violation(ctx, &InvariantViolation{Kind: "unknown_order", Subject: t.ID, Err: fmt.Errorf("order %s not tracked", t.OrderID)})
			return nil
		}
		return err
	}
	if err := r.store.Trades().SaveTrade(ctx, t); err != nil {
		return err
	}

	r.bump(func(s *Stats) { s.TradesAdded++ })
	r.mon.RecordTrade(t.Amount.InexactFloat64())
	r.log.LogTrade("added", t.ID, map[string]interface{}{
		"order_id": t.OrderID,
		"amount":   t.Amount.String(),
		"price":    t.Price.String(),
	})
	r.sink(ctx, Event{Kind: EventTradeAdded, Trade: t})
	return nil
}

// ReconcileTickers 只持久化比已存更新的行情；转发给策略时仅对完全相同的快照去重。
func (r *Reconciler) ReconcileTickers(ctx context.Context, tickers []market.Ticker) error {
	r.tickerMu.Lock()
	defer r.tickerMu.Unlock()

	var errs []error
	for _, t := range tickers {
		if err := r.storeTicker(ctx, t); err != nil {
			errs = append(errs, err)
		}
		if prev, ok := r.lastSeen[t.Pair]; ok && sameTicker(prev, t) {
			continue
		}
		r.lastSeen[t.Pair] = t
		r.sink(ctx, Event{Kind: EventTickerUpdated, Ticker: t})
	}
	return errors.Join(errs...)
}

func (r *Reconciler) storeTicker(ctx context.Context, t market.Ticker) error {
	last, err := r.store.Tickers().LastTicker(ctx, t.Pair)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	case !t.NewerThan(last):
		return nil
	}
	if err := r.store.Tickers().SaveTicker(ctx, t); err != nil {
		return err
	}
	r.bump(func(s *Stats) { s.TickersStored++ })
	r.mon.RecordTickerStored(t.Pair.String())
	return nil
}

func sameTicker(a, b market.Ticker) bool {
	return a.Timestamp.Equal(b.Timestamp) && a.Bid.Equal(b.Bid) && a.Ask.Equal(b.Ask) && a.Last.Equal(b.Last)
}

// SyncOrderTrades 立即拉取并对账某订单的成交与状态，强平前调用以免漏掉迟到的成交。
func (r *Reconciler) SyncOrderTrades(ctx context.Context, orderID string) error {
	if r.exchange == nil {
		return errors.New("reconcile: no exchange configured")
	}
	trades, err := r.exchange.GetTrades(ctx, orderID)
	if err != nil && !errors.Is(err, gateway.ErrOrderNotFound) {
		return fmt.Errorf("sync trades %s: %w", orderID, err)
	}
	if err := r.ReconcileTrades(ctx, trades); err != nil {
		return err
	}
	snap, err := r.exchange.GetOrder(ctx, orderID)
	if errors.Is(err, gateway.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync order %s: %w", orderID, err)
	}
	return r.ReconcileOrders(ctx, []order.Order{snap})
}

func (r *Reconciler) violation(ctx context.Context, v *InvariantViolation) {
	r.bump(func(s *Stats) { s.InvariantViolations++ })
	r.mon.RecordInvariantViolation(v.Kind)
	r.log.LogError(v, map[string]interface{}{"kind": v.Kind, "subject": v.Subject})
	r.sink(ctx, Event{Kind: EventError, Err: v})
}
