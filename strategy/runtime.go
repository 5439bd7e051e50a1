package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tradebot-go/infrastructure/logger"
	"tradebot-go/market"
	"tradebot-go/position"
	"tradebot-go/reconcile"
	"tradebot-go/store"
)

var (
	ErrDuplicateStrategy = errors.New("strategy: duplicate strategy id")
	ErrRuntimeStarted    = errors.New("strategy: runtime already started")
)

// Runtime 把对账事件和持仓通知路由给相应策略。
//
// 每个策略一个无界邮箱和一个投递 goroutine：投递方（对账/ledger）从不阻塞，
// 策略回调里调用 ledger 也不会与对账持有的锁互相等待。
type Runtime struct {
	orders store.OrderRepository
	log    *logger.Logger

	mu      sync.RWMutex
	entries []*entry
	byID    map[string]*entry
	started bool
}

type entry struct {
	s     Strategy
	pairs map[market.CurrencyPair]struct{}
	box   *mailbox
}

// NewRuntime 创建运行时。orders 用于把成交事件归属到下单策略。
func NewRuntime(orders store.OrderRepository, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runtime{
		orders: orders,
		log:    log.Named("strategy"),
		byID:   make(map[string]*entry),
	}
}

// Add 注册策略，必须在 Run 之前调用。
func (r *Runtime) Add(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRuntimeStarted
	}
	if _, ok := r.byID[s.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, s.ID())
	}
	e := &entry{s: s, pairs: make(map[market.CurrencyPair]struct{}), box: newMailbox()}
	for _, p := range s.Pairs() {
		e.pairs[p] = struct{}{}
	}
	r.entries = append(r.entries, e)
	r.byID[s.ID()] = e
	return nil
}

// StrategyIDs 已注册策略 id。
func (r *Runtime) StrategyIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		ids = append(ids, e.s.ID())
	}
	return ids
}

// Pairs 所有策略订阅的交易对（去重、排序）。
func (r *Runtime) Pairs() []market.CurrencyPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[market.CurrencyPair]struct{})
	var out []market.CurrencyPair
	for _, e := range r.entries {
		for p := range e.pairs {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Run 启动所有投递 goroutine，ctx 结束后关闭邮箱并等待退出。
// 回调收到的是 Run 的 ctx，而非投递方的轮询 ctx。
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRuntimeStarted
	}
	r.started = true
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			r.drain(ctx, e)
		}(e)
	}
	<-ctx.Done()
	for _, e := range entries {
		e.box.close()
	}
	wg.Wait()
	return nil
}

func (r *Runtime) drain(ctx context.Context, e *entry) {
	for {
		fn, ok := e.box.pop()
		if !ok {
			return
		}
		r.invoke(ctx, e.s.ID(), fn)
	}
}

func (r *Runtime) invoke(ctx context.Context, id string, fn func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("strategy callback panicked", zap.String("strategy", id), zap.Any("panic", rec))
		}
	}()
	fn(ctx)
}

// Dispatch 作为 reconcile.Sink 使用：行情按订阅交易对广播，
// 订单/成交投递给下单策略，不变式错误投递给相关策略（无法归属时广播）。
func (r *Runtime) Dispatch(ctx context.Context, ev reconcile.Event) {
	switch ev.Kind {
	case reconcile.EventTickerUpdated:
		t := ev.Ticker
		r.each(func(e *entry) bool {
			_, ok := e.pairs[t.Pair]
			return ok
		}, func(s Strategy) func(context.Context) {
			return func(ctx context.Context) { s.OnTickerUpdate(ctx, t) }
		})
	case reconcile.EventOrderUpdated:
		o := ev.Order
		r.to(o.StrategyID, func(s Strategy) func(context.Context) {
			return func(ctx context.Context) { s.OnOrderUpdate(ctx, o) }
		})
	case reconcile.EventTradeAdded:
		t := ev.Trade
		r.to(r.owner(ctx, t.OrderID), func(s Strategy) func(context.Context) {
			return func(ctx context.Context) { s.OnTradeUpdate(ctx, t) }
		})
	case reconcile.EventError:
		err := ev.Err
		deliver := func(s Strategy) func(context.Context) {
			return func(ctx context.Context) { s.OnError(ctx, err) }
		}
		var v *reconcile.InvariantViolation
		if errors.As(err, &v) {
			if id := r.owner(ctx, v.Subject); id != "" && r.to(id, deliver) {
				return
			}
		}
		r.each(func(*entry) bool { return true }, deliver)
	}
}

// NotifyPosition 作为 ledger.Listener 使用。
func (r *Runtime) NotifyPosition(_ context.Context, p position.Position) {
	r.to(p.StrategyID, func(s Strategy) func(context.Context) {
		return func(ctx context.Context) { s.OnPositionUpdate(ctx, p) }
	})
}

// Flush 等待调用前已入队的回调全部执行完。
func (r *Runtime) Flush(ctx context.Context) error {
	r.mu.RLock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.RUnlock()
	for _, e := range entries {
		done := make(chan struct{})
		if !e.box.push(func(context.Context) { close(done) }) {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pending 某策略邮箱中等待执行的回调数。
func (r *Runtime) Pending(strategyID string) int {
	r.mu.RLock()
	e, ok := r.byID[strategyID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.box.len()
}

// owner 查找订单所属策略；成交事件可能指向订单 id，不变式错误可能指向订单或成交 id。
func (r *Runtime) owner(ctx context.Context, orderID string) string {
	if r.orders == nil || orderID == "" {
		return ""
	}
	o, err := r.orders.FindOrder(ctx, orderID)
	if err != nil {
		return ""
	}
	return o.StrategyID
}

func (r *Runtime) to(strategyID string, mk func(Strategy) func(context.Context)) bool {
	r.mu.RLock()
	e, ok := r.byID[strategyID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.box.push(mk(e.s))
	return true
}

func (r *Runtime) each(match func(*entry) bool, mk func(Strategy) func(context.Context)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if match(e) {
			e.box.push(mk(e.s))
		}
	}
}

// mailbox 无界 FIFO，push 不阻塞。
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func(context.Context)
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) push(fn func(context.Context)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, fn)
	m.cond.Signal()
	return true
}

// pop 阻塞直到有消息；关闭后返回 false，未投递的消息丢弃。
func (m *mailbox) pop() (func(context.Context), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil, false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
}
