// Package risk 开仓前的风控校验。
package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
)

// Request 待校验的开仓请求。
type Request struct {
	StrategyID string
	Pair       market.CurrencyPair
	Amount     decimal.Decimal
}

// Guard 是通用接口，数量上限、交易对约束、熔断等都可实现。
type Guard interface {
	PreOpen(ctx context.Context, req Request) error
}

// GuardFunc 适配普通函数。
type GuardFunc func(ctx context.Context, req Request) error

func (f GuardFunc) PreOpen(ctx context.Context, req Request) error { return f(ctx, req) }

// MultiGuard 顺序执行多个 Guard，只要有一个返回错误则中止。
type MultiGuard struct {
	Guards []Guard
}

func (m MultiGuard) PreOpen(ctx context.Context, req Request) error {
	for _, g := range m.Guards {
		if g == nil {
			continue
		}
		if err := g.PreOpen(ctx, req); err != nil {
			return err
		}
	}
	return nil
}
