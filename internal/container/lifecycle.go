package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"tradebot-go/infrastructure/logger"
)

// Lifecycle 可启动、停止并自检的组件
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 按注册顺序启动组件，逆序停止
type LifecycleManager struct {
	mu         sync.RWMutex
	components []Lifecycle
	started    int // 已启动的前缀长度
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// Register 注册组件，必须在 StartAll 之前调用
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动；任一失败则逆序停止已启动的部分。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components[m.started:] {
		if err := c.Start(ctx); err != nil {
			rollback := m.stopLocked()
			return errors.Join(fmt.Errorf("start %s: %w", c.Name(), err), rollback)
		}
		m.started++
	}
	return nil
}

// StopAll 逆序停止已启动的组件，汇总所有错误
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *LifecycleManager) stopLocked() error {
	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

// CheckHealth 返回第一个不健康的组件
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.started < len(m.components) {
		return fmt.Errorf("%d of %d components started", m.started, len(m.components))
	}
	for _, c := range m.components {
		if err := c.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", c.Name(), err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  *http.Server
	bound   string
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	// 先同步监听，端口被占用时启动失败而不是在后台静默退出
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}
	h.bound = ln.Addr().String()
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.server = srv

	go func() {
		h.logger.Logger.Info(fmt.Sprintf("%s listening on %s", h.name, h.bound))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "listen",
			})
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Logger.Info(fmt.Sprintf("%s stopped", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// Addr 实际监听地址（addr 使用 :0 时有用）。
func (h *httpServerComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

// runComponent 把阻塞式的 Run(ctx) 包装为生命周期组件。
type runComponent struct {
	name   string
	run    func(ctx context.Context) error
	logger *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	exitErr error
}

func (r *runComponent) Name() string { return r.name }

func (r *runComponent) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.exitErr = nil

	go func(done chan struct{}) {
		defer close(done)
		err := r.run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.LogError(err, map[string]interface{}{"component": r.name, "action": "run"})
		} else {
			err = nil
		}
		r.mu.Lock()
		r.exitErr = err
		r.mu.Unlock()
	}(r.done)

	r.logger.Logger.Info(fmt.Sprintf("%s started", r.name))
	return nil
}

func (r *runComponent) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("%s: timeout waiting for stop", r.name)
	}

	r.mu.Lock()
	r.done, r.cancel = nil, nil
	err := r.exitErr
	r.mu.Unlock()
	r.logger.Logger.Info(fmt.Sprintf("%s stopped", r.name))
	return err
}

func (r *runComponent) Health() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		return fmt.Errorf("%s not started", r.name)
	}
	select {
	case <-r.done:
		if r.exitErr != nil {
			return fmt.Errorf("%s exited: %w", r.name, r.exitErr)
		}
		return fmt.Errorf("%s exited", r.name)
	default:
		return nil
	}
}
