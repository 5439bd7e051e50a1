package gateway

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"tradebot-go/infrastructure/logger"
	"tradebot-go/infrastructure/monitor"
	"tradebot-go/market"
	"tradebot-go/order"
)

// Options 配置 Instrumented 装饰器。
type Options struct {
	Rate       float64 // 每秒请求数，<=0 不限流
	Burst      int
	MaxRetries int           // 只读请求遇到暂时性错误的重试次数
	RetryDelay time.Duration // 重试间隔
	Monitor    *monitor.Monitor
	Logger     *logger.Logger
}

// Instrumented 为 Exchange 加上限流、指标和日志。
//
// PlaceOrder 与 CancelOrder 从不重试：重复下单的代价远高于晚一轮。
type Instrumented struct {
	next    Exchange
	limiter *rate.Limiter
	opts    Options
	log     *logger.Logger
}

var _ Exchange = (*Instrumented)(nil)

// NewInstrumented 包装 next。
func NewInstrumented(next Exchange, opts Options) *Instrumented {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Instrumented{
		next:    next,
		limiter: rate.NewLimiter(limit, opts.Burst),
		opts:    opts,
		log:     log.Named("gateway"),
	}
}

func (g *Instrumented) PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	if err := req.Validate(); err != nil {
		return OrderHandle{}, err
	}
	var h OrderHandle
	err := g.call(ctx, "place_order", 0, func(ctx context.Context) error {
		var err error
		h, err = g.next.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		g.log.LogError(err, map[string]interface{}{
			"action":          "place_order",
			"pair":            req.Pair.String(),
			"type":            string(req.Type),
			"client_order_id": req.ClientOrderID,
		})
		return OrderHandle{}, err
	}
	g.opts.Monitor.RecordOrderPlaced(req.StrategyID, string(req.Type))
	g.log.LogOrder("placed", h.OrderID, map[string]interface{}{
		"pair":     req.Pair.String(),
		"type":     string(req.Type),
		"amount":   req.Amount.String(),
		"strategy": req.StrategyID,
	})
	return h, nil
}

func (g *Instrumented) CancelOrder(ctx context.Context, orderID string) error {
	err := g.call(ctx, "cancel_order", 0, func(ctx context.Context) error {
		return g.next.CancelOrder(ctx, orderID)
	})
	if err != nil {
		g.log.LogError(err, map[string]interface{}{"action": "cancel_order", "order_id": orderID})
		return err
	}
	g.log.LogOrder("cancel_requested", orderID, nil)
	return nil
}

func (g *Instrumented) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	var o order.Order
	err := g.call(ctx, "get_order", g.opts.MaxRetries, func(ctx context.Context) error {
		var err error
		o, err = g.next.GetOrder(ctx, orderID)
		return err
	})
	return o, err
}

func (g *Instrumented) GetTrades(ctx context.Context, orderID string) ([]order.Trade, error) {
	var trades []order.Trade
	err := g.call(ctx, "get_trades", g.opts.MaxRetries, func(ctx context.Context) error {
		var err error
		trades, err = g.next.GetTrades(ctx, orderID)
		return err
	})
	return trades, err
}

func (g *Instrumented) GetTicker(ctx context.Context, pair market.CurrencyPair) (market.Ticker, error) {
	var t market.Ticker
	err := g.call(ctx, "get_ticker", g.opts.MaxRetries, func(ctx context.Context) error {
		var err error
		t, err = g.next.GetTicker(ctx, pair)
		return err
	})
	return t, err
}

// call 统一处理限流、耗时和错误计数。
func (g *Instrumented) call(ctx context.Context, action string, retries int, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if werr := g.limiter.Wait(ctx); werr != nil {
			return Transient(action, werr)
		}
		start := time.Now()
		g.opts.Monitor.RecordGatewayRequest(action)
		err = fn(ctx)
		g.opts.Monitor.RecordGatewayLatency(action, time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		g.opts.Monitor.RecordGatewayError(action)
		if !IsTransient(err) || attempt >= retries {
			return err
		}
		select {
		case <-ctx.Done():
			return Transient(action, ctx.Err())
		case <-time.After(g.opts.RetryDelay):
		}
	}
}
