package alert

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"tradebot-go/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	name   string
	logger *logger.Logger
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{name: name, logger: log.Named("alert")}
}

// Send 按级别映射到日志级别
func (c *LogChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("level", string(a.Level)),
		zap.String("kind", a.Kind),
		zap.Time("ts", a.Timestamp),
	}
	if a.StrategyID != "" {
		fields = append(fields, zap.String("strategy", a.StrategyID))
	}
	if a.Subject != "" {
		fields = append(fields, zap.String("subject", a.Subject))
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	switch a.Level {
	case LevelCritical, LevelError:
		c.logger.Error(a.Message, fields...)
	case LevelWarning:
		c.logger.Warn(a.Message, fields...)
	default:
		c.logger.Info(a.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string { return c.name }

// MockChannel 记录收到的告警（用于测试）
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return errors.New("mock error")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string { return c.name }

// GetAlerts 获取所有接收到的告警
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Count 返回接收到的告警数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
