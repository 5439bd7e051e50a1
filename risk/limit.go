package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/store"
)

// Limits 配置。零值表示不限制。
type Limits struct {
	MaxPositionAmount decimal.Decimal // 单个仓位最大数量（基础币）
	MaxOpenPositions  int             // 每个策略同时未平仓的仓位数
}

// LimitChecker 校验开仓数量以及策略的未平仓数量。
type LimitChecker struct {
	cfg       Limits
	positions store.PositionRepository
}

func NewLimitChecker(cfg Limits, positions store.PositionRepository) *LimitChecker {
	return &LimitChecker{cfg: cfg, positions: positions}
}

// PreOpen 校验开仓约束。
func (lc *LimitChecker) PreOpen(ctx context.Context, req Request) error {
	if lc.cfg.MaxPositionAmount.IsPositive() && req.Amount.GreaterThan(lc.cfg.MaxPositionAmount) {
		return fmt.Errorf("%w: %s > max %s", ErrAmountExceed, req.Amount, lc.cfg.MaxPositionAmount)
	}
	if lc.cfg.MaxOpenPositions > 0 && lc.positions != nil {
		all, err := lc.positions.FindPositionsByStrategy(ctx, req.StrategyID)
		if err != nil {
			return err
		}
		open := 0
		for _, p := range all {
			if p.Status != position.StatusClosed {
				open++
			}
		}
		if open >= lc.cfg.MaxOpenPositions {
			return fmt.Errorf("%w: %d open (max %d)", ErrTooManyPositions, open, lc.cfg.MaxOpenPositions)
		}
	}
	return nil
}

// ConstraintGuard 按交易对的步长与上下限校验数量。
type ConstraintGuard struct {
	Constraints map[market.CurrencyPair]order.SymbolConstraints
}

func (g ConstraintGuard) PreOpen(_ context.Context, req Request) error {
	c, ok := g.Constraints[req.Pair]
	if !ok {
		return nil
	}
	if err := c.Validate(req.Amount); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConstraint, req.Pair, err)
	}
	return nil
}
