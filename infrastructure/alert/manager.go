package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level      Level
	Kind       string // invariant_violation, breaker_tripped, position_error ...
	StrategyID string
	Subject    string // 相关的订单、成交或持仓 id
	Message    string
	Timestamp  time.Time
	Fields     map[string]interface{}
}

func (a Alert) key() string {
	return fmt.Sprintf("%s:%s:%s:%s", a.Level, a.Kind, a.StrategyID, a.Subject)
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 同一 key 在 interval 内只放行一次
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, ok := t.lastSent[key]
	if ok && now.Sub(last) < t.interval {
		return false
	}
	// 顺手清理过期记录，避免 key 无限增长
	for k, ts := range t.lastSent {
		if now.Sub(ts) >= t.interval {
			delete(t.lastSent, k)
		}
	}
	t.lastSent[key] = now
	return true
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器。nil Manager 的所有方法都是空操作。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex

	sent      int64
	throttled int64
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// Send 发送告警到所有通道；全部通道失败时返回最后一个错误。
func (m *Manager) Send(alert Alert) error {
	if m == nil {
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if !m.throttle.Allow(alert.key()) {
		m.mu.Lock()
		m.throttled++
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	m.sent++
	channels := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	var lastErr error
	ok := 0
	for _, ch := range channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			continue
		}
		ok++
	}
	if ok == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// InvariantViolation 交易所数据与本地状态矛盾
func (m *Manager) InvariantViolation(kind, subject string, err error) error {
	return m.Send(Alert{
		Level:   LevelError,
		Kind:    "invariant_violation",
		Subject: subject,
		Message: err.Error(),
		Fields:  map[string]interface{}{"violation": kind},
	})
}

// BreakerTripped 行情异动熔断
func (m *Manager) BreakerTripped(pair, window string) error {
	return m.Send(Alert{
		Level:   LevelWarning,
		Kind:    "breaker_tripped",
		Subject: pair,
		Message: "circuit breaker tripped on " + pair,
		Fields:  map[string]interface{}{"window": window},
	})
}

// PositionError 持仓进入需人工关注的错误状态
func (m *Manager) PositionError(strategyID, positionID, status, message string) error {
	return m.Send(Alert{
		Level:      LevelCritical,
		Kind:       "position_error",
		StrategyID: strategyID,
		Subject:    positionID,
		Message:    message,
		Fields:     map[string]interface{}{"status": status},
	})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// GetChannels 获取所有通道名
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Stats 已发送和被限流的告警数
func (m *Manager) Stats() (sent, throttled int64) {
	if m == nil {
		return 0, 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sent, m.throttled
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
