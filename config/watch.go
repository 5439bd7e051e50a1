package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tradebot-go/infrastructure/logger"
)

// Watcher 基于 fsnotify 监听配置文件，变更后在冷却期结束时重新加载一次。
// 监听所在目录而不是文件本身，编辑器"写临时文件再 rename"的方式同样生效。
type Watcher struct {
	Path     string
	Cooldown time.Duration
	Logger   *logger.Logger
}

// Start 阻塞直到 ctx 结束。加载或校验失败的配置不会下发，保持旧配置。
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = time.Second
	}
	log := w.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("config")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			// 只处理写入和创建事件
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// 冷却期内的多次写入合并为一次加载
			if timer == nil {
				timer = time.NewTimer(w.Cooldown)
				fire = timer.C
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			// 记录错误但继续监听
			log.Warn("config watcher error", zap.Error(err))

		case <-fire:
			timer, fire = nil, nil
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				log.Warn("config reload rejected", zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", w.Path))
			if onUpdate != nil {
				onUpdate(cfg)
			}
		}
	}
}

// FluxChanged 轮询调度参数是否变化（这部分可以不重启直接生效）。
func FluxChanged(old, updated AppConfig) bool {
	return old.Flux.TickerIntervalMs != updated.Flux.TickerIntervalMs ||
		old.Flux.OrderIntervalMs != updated.Flux.OrderIntervalMs ||
		old.Flux.TradeIntervalMs != updated.Flux.TradeIntervalMs
}
