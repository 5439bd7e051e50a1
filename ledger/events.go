package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/store"
)

// OnOrderUpdated 订单状态变化后推进所属持仓。
func (l *Ledger) OnOrderUpdated(ctx context.Context, o order.Order) error {
	return l.onOrder(ctx, o.ID)
}

// OnTradeAdded 新成交后推进所属持仓。
func (l *Ledger) OnTradeAdded(ctx context.Context, t order.Trade) error {
	return l.onOrder(ctx, t.OrderID)
}

func (l *Ledger) onOrder(ctx context.Context, orderID string) error {
	p, err := l.store.Positions().FindPositionByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		l.debug("order has no position", zap.String("order_id", orderID))
		return nil
	}
	if err != nil {
		return err
	}
	return l.refresh(ctx, p.ID)
}

// refresh 在持仓锁内重新读取并推进单个持仓。
func (l *Ledger) refresh(ctx context.Context, positionID string) error {
	unlock := l.posLocks.Lock(positionID)
	p, err := l.store.Positions().FindPosition(ctx, positionID)
	if err != nil {
		unlock()
		return err
	}
	changed, err := l.advance(ctx, &p)
	unlock()

	if changed {
		l.emit(ctx, p)
	}
	return err
}

// Sweep 推进所有未平仓持仓；持久化失败后靠它在下一轮补上迁移。
func (l *Ledger) Sweep(ctx context.Context) error {
	live, err := l.store.Positions().FindPositionsByStatus(ctx, position.LiveStatuses...)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range live {
		if p.Status == position.StatusOpened {
			continue
		}
		if err := l.refresh(ctx, p.ID); err != nil {
			errs = append(errs, fmt.Errorf("position %s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// advance 按已持久化的订单与成交推进状态机。调用方持有持仓锁。
// 返回 true 表示持仓已变化并落库。
func (l *Ledger) advance(ctx context.Context, p *position.Position) (bool, error) {
	switch p.Status {
	case position.StatusOpening:
		return l.advanceOpening(ctx, p)
	case position.StatusClosing, position.StatusForceClosing:
		return l.advanceClosing(ctx, p)
	default:
		return false, nil
	}
}

func (l *Ledger) advanceOpening(ctx context.Context, p *position.Position) (bool, error) {
	o, err := l.store.Orders().FindOrder(ctx, p.OpeningOrderID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	fills, err := l.fills(ctx, o.ID)
	if err != nil {
		return false, err
	}

	next := *p
	switch o.Status {
	case order.StatusFilled:
		if !fills.Covers(p.Amount) {
			return false, nil // 成交还没到齐
		}
		// 交易所超额成交时以实际成交量为准
		next.Amount = fills.Amount
		next.OpeningAveragePrice = fills.AveragePrice
		next.OpeningFees = fills.Fees
		if err := next.TransitionTo(position.StatusOpened); err != nil {
			return false, err
		}

	case order.StatusCancelled, order.StatusError:
		if l.isForcing(p.ID) {
			return false, nil // 由 ForceClose 决定结果
		}
		if fills.Amount.LessThan(o.FilledAmount) {
			return false, nil
		}
		if fills.Empty() {
			next.Amount = decimal.Zero
			next.Fail(openingFailure(o))
			if err := next.TransitionTo(position.StatusClosed); err != nil {
				return false, err
			}
			break
		}
		// 部分成交后被撤或出错：实际成交量成为持仓数量
		next.Amount = fills.Amount
		next.OpeningAveragePrice = fills.AveragePrice
		next.OpeningFees = fills.Fees
		if o.Status == order.StatusError {
			next.Fail(openingFailure(o))
		}
		if err := next.TransitionTo(position.StatusOpened); err != nil {
			return false, err
		}

	default:
		return false, nil
	}
	return l.commit(ctx, p, next)
}

func (l *Ledger) advanceClosing(ctx context.Context, p *position.Position) (bool, error) {
	if p.ClosingOrderID == "" {
		return false, nil
	}
	o, err := l.store.Orders().FindOrder(ctx, p.ClosingOrderID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	fills, err := l.fills(ctx, o.ID)
	if err != nil {
		return false, err
	}

	next := *p
	switch {
	case o.IsTerminal() && fills.Covers(p.Remaining()):
		// 均价包含此前被撤平仓单已卖出的部分
		sold := p.ClosedAmount.Add(fills.Amount)
		next.ClosingAveragePrice = p.ClosedNotional.Add(fills.Notional).DivRound(sold, 12)
		next.ClosingFees = p.ClosingFees.Add(fills.Fees)
		next.ClosedAmount = sold
		next.ClosedNotional = p.ClosedNotional.Add(fills.Notional)
		if err := next.TransitionTo(position.StatusClosed); err != nil {
			return false, err
		}

	case o.Status == order.StatusCancelled || o.Status == order.StatusError:
		if fills.Amount.LessThan(o.FilledAmount) {
			return false, nil
		}
		// 平仓失败：回退到 OPENED，策略可再次平仓
		msg := fmt.Sprintf("closing order %s %s", o.ID, o.Status)
		if o.LastError != "" {
			msg += ": " + o.LastError
		}
		if !fills.Empty() {
			msg += fmt.Sprintf(" after partial fill %s", fills.Amount)
			// 已卖出的部分记账，Amount 仍是开仓成交量，下一次平仓只卖 Remaining
			next.ClosedAmount = p.ClosedAmount.Add(fills.Amount)
			next.ClosedNotional = p.ClosedNotional.Add(fills.Notional)
			next.ClosingFees = p.ClosingFees.Add(fills.Fees)
		}
		next.ClosingOrderID = ""
		next.Fail(msg)
		if err := next.TransitionTo(position.StatusOpened); err != nil {
			return false, err
		}

	default:
		return false, nil
	}
	return l.commit(ctx, p, next)
}

func (l *Ledger) commit(ctx context.Context, p *position.Position, next position.Position) (bool, error) {
	if err := l.save(ctx, &next); err != nil {
		return false, err
	}
	from := p.Status
	*p = next
	l.transitioned(*p, from)
	return true, nil
}

func openingFailure(o order.Order) string {
	msg := fmt.Sprintf("opening order %s %s", o.ID, o.Status)
	if o.LastError != "" {
		msg += ": " + o.LastError
	}
	return msg
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// OnTicker 更新该交易对所有未平仓持仓的最新价与高低价，并检查止盈止损。
func (l *Ledger) OnTicker(ctx context.Context, t market.Ticker) error {
	price := t.Price()
	if !price.IsPositive() {
		return nil
	}
	live, err := l.store.Positions().FindPositionsByStatus(ctx, position.LiveStatuses...)
	if err != nil {
		return err
	}

	var (
		errs      []error
		triggered []position.Position
	)
	for _, candidate := range live {
		if candidate.Pair != t.Pair {
			continue
		}
		p, fire, err := l.observe(ctx, candidate.ID, price)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fire != "" {
			l.log.LogPosition("rule_triggered", p.ID, map[string]interface{}{
				"rule":  fire,
				"price": price.String(),
				"gain":  p.Gain().Percentage.String(),
			})
			triggered = append(triggered, p)
		}
	}

	for _, p := range triggered {
		if err := l.Close(ctx, p.StrategyID, p.ID); err != nil && !errors.Is(err, ErrInvalidState) {
			errs = append(errs, fmt.Errorf("auto close %s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// observe 记录价格；价格未变时不落库也不通知，但仍检查规则。
func (l *Ledger) observe(ctx context.Context, positionID string, price decimal.Decimal) (position.Position, string, error) {
	unlock := l.posLocks.Lock(positionID)
	p, err := l.store.Positions().FindPosition(ctx, positionID)
	if err != nil {
		unlock()
		return position.Position{}, "", err
	}
	if p.IsClosed() {
		unlock()
		return p, "", nil
	}
	changed := p.ObservePrice(price)
	if changed {
		if err := l.save(ctx, &p); err != nil {
			unlock()
			return position.Position{}, "", err
		}
	}
	unlock()

	if changed {
		l.emit(ctx, p)
	}
	if p.Status != position.StatusOpened {
		return p, "", nil
	}
	fire, rule := p.Rules.Triggered(p.Gain().Percentage)
	if !fire {
		return p, "", nil
	}
	return p, rule, nil
}
