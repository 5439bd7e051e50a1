package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrUnknownKind = errors.New("strategy: unknown strategy kind")

// Params 策略参数，来自配置文件的 params 段。
type Params map[string]any

// Decimal 读取十进制参数，支持字符串与数字；缺失时返回 def。
func (p Params) Decimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, fmt.Errorf("param %s: %w", key, err)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case decimal.Decimal:
		return x, nil
	default:
		return decimal.Zero, fmt.Errorf("param %s: unsupported type %T", key, v)
	}
}

// String 读取字符串参数。
func (p Params) String(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Constructor 根据依赖与参数构造策略。
type Constructor func(deps Dependencies, params Params) (Strategy, error)

// Factory 按 kind 创建策略实例。
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewFactory 创建工厂并注册内置策略。
func NewFactory() *Factory {
	f := &Factory{ctors: make(map[string]Constructor)}
	f.Register(KindThreshold, NewThreshold)
	return f
}

// Register 注册（或覆盖）一种策略。
func (f *Factory) Register(kind string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[kind] = c
}

// Kinds 已注册的策略类型。
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]string, 0, len(f.ctors))
	for k := range f.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Create creates a strategy instance of the given kind.
func (f *Factory) Create(kind string, deps Dependencies, params Params) (Strategy, error) {
	f.mu.RLock()
	c, ok := f.ctors[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if deps.StrategyID == "" {
		return nil, errors.New("strategy: empty strategy id")
	}
	return c(deps, params)
}
