// Package flux 周期性拉取交易所状态（行情、订单、成交），交给下游对账。
//
// 每个 Poller 独立调度；一轮尚未结束时新的 tick 直接跳过，不排队。
// 所有 Poller 共享一个加权信号量作为工作池。
package flux

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tradebot-go/infrastructure/logger"
	"tradebot-go/infrastructure/monitor"
)

// ErrSkipped 上一轮仍在执行，本轮被跳过。
var ErrSkipped = errors.New("flux: previous poll still running")

// Source 拉取一批快照。部分失败时返回已取到的部分以及合并后的错误。
type Source[T any] interface {
	Poll(ctx context.Context) ([]T, error)
}

// SourceFunc 适配普通函数。
type SourceFunc[T any] func(ctx context.Context) ([]T, error)

func (f SourceFunc[T]) Poll(ctx context.Context) ([]T, error) { return f(ctx) }

// Consumer 处理一批快照。
type Consumer[T any] func(ctx context.Context, batch []T) error

// Config 单个 Poller 的调度参数。
type Config struct {
	Kind     string
	Interval time.Duration
	Timeout  time.Duration // 单轮超时，零值等于 Interval
}

// Deps 共享依赖。
type Deps struct {
	Pool    *semaphore.Weighted
	Logger  *logger.Logger
	Monitor *monitor.Monitor
}

// Poller 按固定间隔执行 Source -> Consumer。
type Poller[T any] struct {
	kind    string
	source  Source[T]
	consume Consumer[T]
	pool    *semaphore.Weighted
	log     *logger.Logger
	mon     *monitor.Monitor

	interval atomic.Int64
	timeout  atomic.Int64
	busy     atomic.Bool
	reset    chan struct{}
	wg       sync.WaitGroup
}

// NewPoller 创建 Poller。Pool 为空时使用单槽信号量。
func NewPoller[T any](cfg Config, source Source[T], consume Consumer[T], deps Deps) *Poller[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	pool := deps.Pool
	if pool == nil {
		pool = semaphore.NewWeighted(1)
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	p := &Poller[T]{
		kind:    cfg.Kind,
		source:  source,
		consume: consume,
		pool:    pool,
		log:     log.Named("flux").WithFields(map[string]interface{}{"kind": cfg.Kind}),
		mon:     deps.Monitor,
		reset:   make(chan struct{}, 1),
	}
	p.interval.Store(int64(cfg.Interval))
	p.timeout.Store(int64(cfg.Timeout))
	return p
}

// Kind 返回轮询类型名。
func (p *Poller[T]) Kind() string { return p.kind }

// Interval 返回当前轮询间隔。
func (p *Poller[T]) Interval() time.Duration { return time.Duration(p.interval.Load()) }

// SetInterval 运行时调整间隔，下一次 tick 生效。
func (p *Poller[T]) SetInterval(d time.Duration) {
	if d <= 0 || d == p.Interval() {
		return
	}
	p.interval.Store(int64(d))
	select {
	case p.reset <- struct{}{}:
	default:
	}
	p.log.Info("poll interval changed", zap.Duration("interval", d))
}

// Run 阻塞直到 ctx 结束，返回前等待进行中的一轮完成。
func (p *Poller[T]) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()
	defer p.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.reset:
			ticker.Reset(p.Interval())
		case <-ticker.C:
			if !p.busy.CompareAndSwap(false, true) {
				p.skipped()
				continue
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.busy.Store(false)
				_ = p.unit(ctx)
			}()
		}
	}
}

// Poll 同步执行一轮；上一轮未结束时返回 ErrSkipped。
func (p *Poller[T]) Poll(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		p.skipped()
		return ErrSkipped
	}
	defer p.busy.Store(false)
	return p.unit(ctx)
}

func (p *Poller[T]) skipped() {
	p.mon.RecordPollSkipped(p.kind)
	p.log.Debug("poll skipped, previous run still in flight")
}

// unit 是有界的一轮：占用工作池一个槽位，受 Timeout 约束。
func (p *Poller[T]) unit(ctx context.Context) error {
	timeout := time.Duration(p.timeout.Load())
	if timeout <= 0 {
		timeout = p.Interval()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.pool.Release(1)

	start := time.Now()
	batch, srcErr := p.source.Poll(ctx)
	var consErr error
	if len(batch) > 0 {
		consErr = p.consume(ctx, batch)
	}
	err := errors.Join(srcErr, consErr)
	p.mon.RecordPoll(p.kind, time.Since(start).Seconds(), err)
	if err != nil {
		p.log.Warn("poll finished with errors",
			zap.Int("items", len(batch)),
			zap.Error(err),
		)
	}
	return err
}
