package container

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot-go/config"
	"tradebot-go/gateway"
	"tradebot-go/infrastructure/alert"
	"tradebot-go/infrastructure/logger"
	"tradebot-go/infrastructure/monitor"
	"tradebot-go/internal/engine"
	"tradebot-go/ledger"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/posttrade"
	"tradebot-go/reconcile"
	"tradebot-go/risk"
	"tradebot-go/sim"
	"tradebot-go/store"
	"tradebot-go/store/gormstore"
	"tradebot-go/store/memstore"
	"tradebot-go/strategy"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfgMu      sync.RWMutex
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager
	store   store.Store

	// 交易所网关
	paper    *sim.PaperExchange
	exchange gateway.Exchange

	// 核心服务
	reconciler *reconcile.Reconciler
	ledger     *ledger.Ledger
	runtime    *strategy.Runtime
	factory    *strategy.Factory
	gains      *posttrade.Analyzer
	breaker    *risk.CircuitBreaker
	engine     *engine.TradingEngine

	// HTTP服务器
	metricsServer *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 从配置文件创建 Container，启用配置热更新。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewFromConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewFromConfig 使用已加载的配置创建 Container（不监听配置文件）。
func NewFromConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		factory:   strategy.NewFactory(),
		lifecycle: NewLifecycleManager(),
	}
}

// Factory 返回策略工厂，Build 之前可注册自定义策略类型。
func (c *Container) Factory() *strategy.Factory { return c.factory }

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildStore(); err != nil {
		return fmt.Errorf("build store failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.Config{
		Namespace: c.cfg.Metrics.Namespace,
		Subsystem: "runtime",
	})

	c.alerts = alert.NewManager(
		[]alert.Channel{alert.NewLogChannel("log", c.logger)},
		time.Duration(c.cfg.Alert.ThrottleSec)*time.Second,
	)

	c.logger.Info("infrastructure built", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildStore() error {
	db := c.cfg.Database
	if db.Type == "memory" {
		c.store = memstore.New()
		c.logger.Warn("using in-memory store, state is lost on exit")
		return nil
	}
	st, err := gormstore.Open(gormstore.Config{
		Type:         db.Type,
		DSN:          db.DSN,
		MaxOpenConns: db.MaxOpenConns,
		MaxIdleConns: db.MaxIdleConns,
		LogLevel:     db.LogLevel,
	})
	if err != nil {
		return err
	}
	c.store = st
	c.logger.Info("store opened", zap.String("type", db.Type))
	return nil
}

func (c *Container) buildGateway() error {
	ex := c.cfg.Exchange
	now := time.Now().UTC()
	seeds := make([]market.Ticker, 0, len(ex.Paper.Tickers))
	for _, t := range ex.Paper.Tickers {
		seeds = append(seeds, market.NewTicker(t.Pair, t.Bid, t.Ask, t.Last, now))
	}
	c.paper = sim.NewPaperExchange(sim.Config{
		FeeRate:   ex.Paper.FeeRate,
		FillRatio: ex.Paper.FillRatio,
		Tickers:   seeds,
	})
	c.exchange = gateway.NewInstrumented(c.paper, gateway.Options{
		Rate:       ex.RateLimit,
		Burst:      ex.RateBurst,
		MaxRetries: ex.MaxRetries,
		Monitor:    c.monitor,
		Logger:     c.logger,
	})

	c.logger.Info("gateway built", zap.String("driver", ex.Driver), zap.Int("tickers", len(seeds)))
	return nil
}

func (c *Container) buildCoreServices() error {
	rc := c.cfg.Risk
	guards := []risk.Guard{
		risk.NewLimitChecker(risk.Limits{
			MaxPositionAmount: rc.MaxPositionAmount,
			MaxOpenPositions:  rc.MaxOpenPositions,
		}, c.store.Positions()),
	}
	if len(rc.Constraints) > 0 {
		cons := make(map[market.CurrencyPair]order.SymbolConstraints, len(rc.Constraints))
		for _, pc := range rc.Constraints {
			cons[pc.Pair] = order.SymbolConstraints{StepSize: pc.StepSize, MinAmount: pc.MinAmount, MaxAmount: pc.MaxAmount}
		}
		guards = append(guards, risk.ConstraintGuard{Constraints: cons})
	}
	if rc.CircuitBreaker.Enabled() {
		c.breaker = risk.NewCircuitBreaker(rc.CircuitBreaker.OneMinute, rc.CircuitBreaker.FiveMinute,
			time.Duration(rc.CircuitBreaker.CooldownSec)*time.Second)
		guards = append(guards, c.breaker)
	}

	c.reconciler = reconcile.New(reconcile.Config{
		Store:    c.store,
		Exchange: c.exchange,
		Logger:   c.logger,
		Monitor:  c.monitor,
	})
	c.ledger = ledger.New(ledger.Config{
		Store:    c.store,
		Exchange: c.exchange,
		Guard:    risk.MultiGuard{Guards: guards},
		Logger:   c.logger,
		Monitor:  c.monitor,
	})
	c.gains = posttrade.NewAnalyzer(c.store.Positions(), c.monitor)
	c.runtime = strategy.NewRuntime(c.store.Orders(), c.logger)

	if err := c.buildStrategies(); err != nil {
		return err
	}

	fc := c.cfg.Flux
	eng, err := engine.New(engine.Config{
		TickerInterval: fc.TickerInterval(),
		OrderInterval:  fc.OrderInterval(),
		TradeInterval:  fc.TradeInterval(),
		PollTimeout:    fc.PollTimeout(),
		Workers:        fc.Workers,
	}, engine.Components{
		Store:      c.store,
		Exchange:   c.exchange,
		Reconciler: c.reconciler,
		Ledger:     c.ledger,
		Runtime:    c.runtime,
		Breaker:    c.breaker,
		Gains:      c.gains,
		Alerts:     c.alerts,
		Logger:     c.logger,
		Monitor:    c.monitor,
	})
	if err != nil {
		return err
	}
	c.engine = eng

	c.logger.Info("core services built", zap.Strings("strategies", c.runtime.StrategyIDs()))
	return nil
}

func (c *Container) buildStrategies() error {
	ids := make([]string, 0, len(c.cfg.Strategies))
	for id := range c.cfg.Strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sc := c.cfg.Strategies[id]
		s, err := c.factory.Create(sc.Kind, strategy.Dependencies{
			StrategyID: id,
			Pairs:      sc.Pairs,
			Operations: strategy.NewOperations(id, sc.AllowConcurrentPositions, c.ledger, c.store, c.gains),
			Orders:     c.store.Orders(),
			Trades:     c.store.Trades(),
			Positions:  c.store.Positions(),
			Tickers:    c.store.Tickers(),
			Exchange:   c.exchange,
			Logger:     c.logger.Named("strategy"),
		}, strategy.Params(sc.Params))
		if err != nil {
			return fmt.Errorf("create strategy %s: %w", id, err)
		}
		if err := c.runtime.Add(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.monitor.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			if err := c.HealthCheck(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		})
		c.metricsServer = &httpServerComponent{
			name:    "metrics_server",
			handler: mux,
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.metricsServer)
	}

	step := time.Duration(c.cfg.Exchange.Paper.StepIntervalMs) * time.Millisecond
	c.lifecycle.Register(&runComponent{
		name:   "paper_exchange",
		run:    func(ctx context.Context) error { return c.paper.Run(ctx, step) },
		logger: c.logger,
	})
	c.lifecycle.Register(&runComponent{
		name:   "engine",
		run:    c.engine.Run,
		logger: c.logger,
	})

	if c.configPath != "" {
		w := config.Watcher{Path: c.configPath, Cooldown: 2 * time.Second, Logger: c.logger}
		c.lifecycle.Register(&runComponent{
			name:   "config_watcher",
			run:    func(ctx context.Context) error { return w.Start(ctx, c.ApplyConfig) },
			logger: c.logger,
		})
	}
}

// ApplyConfig 应用热更新的配置：轮询间隔即时生效，其余改动需要重启。
func (c *Container) ApplyConfig(updated config.AppConfig) {
	c.cfgMu.Lock()
	old := c.cfg
	c.cfg.Flux.TickerIntervalMs = updated.Flux.TickerIntervalMs
	c.cfg.Flux.OrderIntervalMs = updated.Flux.OrderIntervalMs
	c.cfg.Flux.TradeIntervalMs = updated.Flux.TradeIntervalMs
	c.cfgMu.Unlock()

	if config.FluxChanged(old, updated) {
		c.engine.SetIntervals(updated.Flux.TickerInterval(), updated.Flux.OrderInterval(), updated.Flux.TradeInterval())
		c.logger.Info("flux intervals updated",
			zap.Int("ticker_ms", updated.Flux.TickerIntervalMs),
			zap.Int("order_ms", updated.Flux.OrderIntervalMs),
			zap.Int("trade_ms", updated.Flux.TradeIntervalMs))
	}
	if len(updated.Strategies) != len(old.Strategies) || updated.Database != old.Database || updated.Exchange.Driver != old.Exchange.Driver {
		c.logger.Warn("config changes beyond flux intervals require a restart")
	}
}

// Config 当前生效的配置快照。
func (c *Container) Config() config.AppConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *Container) Engine() *engine.TradingEngine { return c.engine }
func (c *Container) Store() store.Store            { return c.store }
func (c *Container) Paper() *sim.PaperExchange     { return c.paper }
func (c *Container) Monitor() *monitor.Monitor     { return c.monitor }
func (c *Container) Logger() *logger.Logger        { return c.logger }
func (c *Container) Alerts() *alert.Manager        { return c.alerts }

// MetricsAddr 指标服务实际监听地址，未启用时为空。
func (c *Container) MetricsAddr() string {
	if c.metricsServer == nil {
		return ""
	}
	return c.metricsServer.Addr()
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件。持仓保持原状：重启后由 ledger 从持久化状态继续推进。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	if c.store != nil {
		if cerr := c.store.Close(); cerr != nil {
			c.logger.LogError(cerr, map[string]interface{}{"action": "close_store"})
		}
	}

	placed, cancelled := c.paper.Stats()
	stats := c.engine.GetStatistics()
	c.logger.Info("container stopped",
		zap.Int("orders_placed", placed),
		zap.Int("orders_cancelled", cancelled),
		zap.Int64("position_updates", stats.PositionUpdates),
		zap.Int64("errors", stats.TotalErrors))

	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}
