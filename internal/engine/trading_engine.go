package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"tradebot-go/flux"
	"tradebot-go/gateway"
	"tradebot-go/infrastructure/alert"
	"tradebot-go/infrastructure/logger"
	"tradebot-go/infrastructure/monitor"
	"tradebot-go/ledger"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/posttrade"
	"tradebot-go/reconcile"
	"tradebot-go/risk"
	"tradebot-go/store"
	"tradebot-go/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StatePaused 暂停状态：轮询照常调度但不拉取数据
	StatePaused
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

const (
	KindTickers = "tickers"
	KindOrders  = "orders"
	KindTrades  = "trades"
)

// Config 引擎配置
type Config struct {
	TickerInterval time.Duration
	OrderInterval  time.Duration
	TradeInterval  time.Duration
	PollTimeout    time.Duration // 零值等于各自的轮询间隔
	Workers        int64         // 共享工作池槽位数
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TickerInterval: 2 * time.Second,
		OrderInterval:  time.Second,
		TradeInterval:  time.Second,
		Workers:        3,
	}
}

// Components 引擎依赖组件
type Components struct {
	Store      store.Store
	Exchange   gateway.Exchange
	Reconciler *reconcile.Reconciler
	Ledger     *ledger.Ledger
	Runtime    *strategy.Runtime
	Breaker    *risk.CircuitBreaker // 可选：行情异动熔断
	Gains      *posttrade.Analyzer  // 可选：平仓后刷新收益指标
	Alerts     *alert.Manager       // 可选：不变量破坏、熔断、持仓错误告警
	Logger     *logger.Logger
	Monitor    *monitor.Monitor
}

// TradingEngine 把 flux 轮询、对账、持仓账本与策略运行时串起来：
// poll -> reconcile -> (runtime, ledger) -> runtime。
type TradingEngine struct {
	config Config

	store      store.Store
	exchange   gateway.Exchange
	reconciler *reconcile.Reconciler
	ledger     *ledger.Ledger
	runtime    *strategy.Runtime
	breaker    *risk.CircuitBreaker
	gains      *posttrade.Analyzer
	alerts     *alert.Manager
	logger     *logger.Logger
	mon        *monitor.Monitor

	pool      *semaphore.Weighted
	tickerSrc *flux.TickerSource
	tickers   *flux.Poller[market.Ticker]
	orders    *flux.Poller[order.Order]
	trades    *flux.Poller[order.Trade]

	// 状态
	state EngineState
	mu    sync.RWMutex

	// 统计信息
	stats Statistics
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime       time.Time
	TickerEvents    int64
	OrderEvents     int64
	TradeEvents     int64
	ErrorEvents     int64
	PositionUpdates int64
	BreakerTrips    int64
	TotalErrors     int64
	LastEventTime   time.Time
	mu              sync.RWMutex
}

// New 创建交易引擎并完成组件之间的接线。
func New(cfg Config, components Components) (*TradingEngine, error) {
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	def := DefaultConfig()
	if cfg.TickerInterval <= 0 {
		cfg.TickerInterval = def.TickerInterval
	}
	if cfg.OrderInterval <= 0 {
		cfg.OrderInterval = def.OrderInterval
	}
	if cfg.TradeInterval <= 0 {
		cfg.TradeInterval = def.TradeInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	log := components.Logger
	if log == nil {
		log = logger.NewNop()
	}

	e := &TradingEngine{
		config:     cfg,
		store:      components.Store,
		exchange:   components.Exchange,
		reconciler: components.Reconciler,
		ledger:     components.Ledger,
		runtime:    components.Runtime,
		breaker:    components.Breaker,
		gains:      components.Gains,
		alerts:     components.Alerts,
		logger:     log.Named("engine"),
		mon:        components.Monitor,
		pool:       semaphore.NewWeighted(cfg.Workers),
		state:      StateIdle,
	}

	e.reconciler.Track(e.runtime.StrategyIDs()...)
	e.reconciler.SetSink(e.onEvent)
	e.ledger.SetSyncer(e.reconciler)
	e.ledger.SetListener(e.onPosition)

	deps := flux.Deps{Pool: e.pool, Logger: log, Monitor: e.mon}
	e.tickerSrc = flux.NewTickerSource(e.exchange, e.runtime.Pairs())
	e.tickers = flux.NewPoller[market.Ticker](
		flux.Config{Kind: KindTickers, Interval: cfg.TickerInterval, Timeout: cfg.PollTimeout},
		pausable[market.Ticker](e, e.tickerSrc), e.reconciler.ReconcileTickers, deps)
	e.orders = flux.NewPoller[order.Order](
		flux.Config{Kind: KindOrders, Interval: cfg.OrderInterval, Timeout: cfg.PollTimeout},
		pausable[order.Order](e, flux.OrderSource{Exchange: e.exchange, Orders: e.store.Orders()}),
		func(ctx context.Context, batch []order.Order) error {
			return errors.Join(e.reconciler.ReconcileOrders(ctx, batch), e.ledger.Sweep(ctx))
		}, deps)
	e.trades = flux.NewPoller[order.Trade](
		flux.Config{Kind: KindTrades, Interval: cfg.TradeInterval, Timeout: cfg.PollTimeout},
		pausable[order.Trade](e, flux.TradeSource{Exchange: e.exchange, Orders: e.store.Orders(), Positions: e.store.Positions()}),
		func(ctx context.Context, batch []order.Trade) error {
			return errors.Join(e.reconciler.ReconcileTrades(ctx, batch), e.ledger.Sweep(ctx))
		}, deps)

	return e, nil
}

// Run 启动运行时与三个轮询器，阻塞直到 ctx 结束或其中之一失败。
func (e *TradingEngine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.stats.mu.Lock()
	e.stats.StartTime = time.Now()
	e.stats.mu.Unlock()

	e.logger.Info("Trading engine starting",
		zap.Strings("strategies", e.runtime.StrategyIDs()),
		zap.Int("pairs", len(e.tickerSrc.Pairs())),
		zap.Duration("ticker_interval", e.tickers.Interval()),
		zap.Duration("order_interval", e.orders.Interval()),
		zap.Duration("trade_interval", e.trades.Interval()),
		zap.Int64("workers", e.config.Workers))

	// 上次运行遗留的持仓先推进一次
	if err := e.ledger.Sweep(ctx); err != nil {
		e.logger.Warn("Initial sweep failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runtime.Run(gctx) })
	g.Go(func() error { return e.tickers.Run(gctx) })
	g.Go(func() error { return e.orders.Run(gctx) })
	g.Go(func() error { return e.trades.Run(gctx) })
	err := g.Wait()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.logger.Info("Trading engine stopped")
	return err
}

// PollOnce 同步执行一轮 tickers -> orders -> trades。
func (e *TradingEngine) PollOnce(ctx context.Context) error {
	return errors.Join(e.tickers.Poll(ctx), e.orders.Poll(ctx), e.trades.Poll(ctx))
}

// Pause 暂停拉取交易所数据
func (e *TradingEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.state = StatePaused
	e.logger.Info("Trading engine paused")
	return nil
}

// Resume 恢复引擎
func (e *TradingEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePaused {
		return fmt.Errorf("engine not paused (state: %s)", e.state)
	}
	e.state = StateRunning
	e.logger.Info("Trading engine resumed")
	return nil
}

// SetIntervals 热更新轮询间隔，零值保持不变。
func (e *TradingEngine) SetIntervals(tickers, orders, trades time.Duration) {
	e.tickers.SetInterval(tickers)
	e.orders.SetInterval(orders)
	e.trades.SetInterval(trades)
}

// Intervals 当前轮询间隔。
func (e *TradingEngine) Intervals() (tickers, orders, trades time.Duration) {
	return e.tickers.Interval(), e.orders.Interval(), e.trades.Interval()
}

// SetPairs 替换行情订阅；策略订阅的交易对始终保留。
func (e *TradingEngine) SetPairs(pairs []market.CurrencyPair) {
	e.tickerSrc.SetPairs(append(e.runtime.Pairs(), pairs...))
}

// onEvent 对账事件出口：先入策略邮箱，再驱动持仓账本，
// 这样策略看到的订单/成交事件总是先于由它引起的持仓变化。
func (e *TradingEngine) onEvent(ctx context.Context, ev reconcile.Event) {
	e.countEvent(ev.Kind)
	e.runtime.Dispatch(ctx, ev)

	var err error
	switch ev.Kind {
	case reconcile.EventOrderUpdated:
		err = e.ledger.OnOrderUpdated(ctx, ev.Order)
	case reconcile.EventTradeAdded:
		err = e.ledger.OnTradeAdded(ctx, ev.Trade)
	case reconcile.EventTickerUpdated:
		if e.breaker != nil {
			if tripped, span := e.breaker.OnTicker(ev.Ticker); tripped {
				e.stats.mu.Lock()
				e.stats.BreakerTrips++
				e.stats.mu.Unlock()
				e.logger.Warn("Circuit breaker tripped",
					zap.String("pair", ev.Ticker.Pair.String()),
					zap.String("window", span))
				e.alert(e.alerts.BreakerTripped(ev.Ticker.Pair.String(), span))
			}
		}
		err = e.ledger.OnTicker(ctx, ev.Ticker)
	case reconcile.EventError:
		var iv *reconcile.InvariantViolation
		if errors.As(ev.Err, &iv) {
			e.alert(e.alerts.InvariantViolation(iv.Kind, iv.Subject, ev.Err))
		}
	}
	if err != nil {
		e.recordError()
		e.logger.LogError(err, map[string]interface{}{"event": string(ev.Kind)})
	}
}

func (e *TradingEngine) onPosition(ctx context.Context, p position.Position) {
	e.stats.mu.Lock()
	e.stats.PositionUpdates++
	e.stats.mu.Unlock()

	e.runtime.NotifyPosition(ctx, p)
	if p.Error {
		e.alert(e.alerts.PositionError(p.StrategyID, p.ID, string(p.Status), p.ErrorMessage))
	}
	if e.gains != nil {
		if err := e.gains.OnPositionUpdate(ctx, p); err != nil {
			e.logger.Warn("Failed to refresh gains", zap.String("strategy", p.StrategyID), zap.Error(err))
		}
	}
}

func (e *TradingEngine) countEvent(kind reconcile.EventKind) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	switch kind {
	case reconcile.EventTickerUpdated:
		e.stats.TickerEvents++
	case reconcile.EventOrderUpdated:
		e.stats.OrderEvents++
	case reconcile.EventTradeAdded:
		e.stats.TradeEvents++
	case reconcile.EventError:
		e.stats.ErrorEvents++
	}
	e.stats.LastEventTime = time.Now()
}

func (e *TradingEngine) alert(err error) {
	if err != nil {
		e.logger.Warn("Failed to send alert", zap.Error(err))
	}
}

// recordError 记录错误
func (e *TradingEngine) recordError() {
	e.stats.mu.Lock()
	e.stats.TotalErrors++
	e.stats.mu.Unlock()
}

// GetState 获取引擎状态
func (e *TradingEngine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *TradingEngine) paused() bool {
	return e.GetState() == StatePaused
}

// GetStatistics 获取统计信息
func (e *TradingEngine) GetStatistics() Statistics {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()
	return Statistics{
		StartTime:       e.stats.StartTime,
		TickerEvents:    e.stats.TickerEvents,
		OrderEvents:     e.stats.OrderEvents,
		TradeEvents:     e.stats.TradeEvents,
		ErrorEvents:     e.stats.ErrorEvents,
		PositionUpdates: e.stats.PositionUpdates,
		BreakerTrips:    e.stats.BreakerTrips,
		TotalErrors:     e.stats.TotalErrors,
		LastEventTime:   e.stats.LastEventTime,
	}
}

// pausable 暂停期间返回空批次。
func pausable[T any](e *TradingEngine, src flux.Source[T]) flux.Source[T] {
	return flux.SourceFunc[T](func(ctx context.Context) ([]T, error) {
		if e.paused() {
			return nil, nil
		}
		return src.Poll(ctx)
	})
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Store == nil {
		return errors.New("store is required")
	}
	if comp.Exchange == nil {
		return errors.New("exchange is required")
	}
	if comp.Reconciler == nil {
		return errors.New("reconciler is required")
	}
	if comp.Ledger == nil {
		return errors.New("ledger is required")
	}
	if comp.Runtime == nil {
		return errors.New("strategy runtime is required")
	}
	return nil
}
