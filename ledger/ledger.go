// Package ledger 管理持仓生命周期：开仓、平仓、强平，以及由订单/成交/行情事件驱动的状态迁移。
//
// 同一持仓的所有修改在持仓锁内串行，动作前总是重新读取持久化状态；
// 通知在释放锁之后发出，策略可以在回调里再次调用 ledger。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot-go/gateway"
	"tradebot-go/infrastructure/logger"
	"tradebot-go/infrastructure/monitor"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/risk"
	"tradebot-go/store"
)

// TradeSyncer 立即同步某订单的成交与状态，对账产生的事件照常下发。
type TradeSyncer interface {
	SyncOrderTrades(ctx context.Context, orderID string) error
}

// Listener 接收持仓变化通知，在持仓锁释放后调用。
type Listener func(ctx context.Context, p position.Position)

// Config ledger 依赖
type Config struct {
	Store    store.Store
	Exchange gateway.Exchange
	Guard    risk.Guard  // 可选
	Syncer   TradeSyncer // 强平时使用
	Listener Listener
	Logger   *logger.Logger
	Monitor  *monitor.Monitor
	Now      func() time.Time
}

// OpenRequest 开仓请求
type OpenRequest struct {
	StrategyID      string
	Pair            market.CurrencyPair
	Amount          decimal.Decimal
	Rules           position.Rules
	AllowConcurrent bool // 允许同一策略在同一交易对上同时持有多个仓位
}

// Ledger 持仓账本
type Ledger struct {
	store    store.Store
	exchange gateway.Exchange
	guard    risk.Guard
	syncer   TradeSyncer
	listener Listener
	log      *logger.Logger
	mon      *monitor.Monitor
	now      func() time.Time

	posLocks  *keyedMutex
	openLocks *keyedMutex

	forcingMu sync.Mutex
	forcing   map[string]struct{}
}

// New 创建 Ledger
func New(cfg Config) *Ledger {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		store:     cfg.Store,
		exchange:  cfg.Exchange,
		guard:     cfg.Guard,
		syncer:    cfg.Syncer,
		listener:  cfg.Listener,
		log:       log.Named("ledger"),
		mon:       cfg.Monitor,
		now:       now,
		posLocks:  newKeyedMutex(),
		openLocks: newKeyedMutex(),
		forcing:   make(map[string]struct{}),
	}
}

// SetListener 设置通知出口；引擎装配完成后调用。
func (l *Ledger) SetListener(fn Listener) { l.listener = fn }

// SetSyncer 设置强平时使用的成交同步器。
func (l *Ledger) SetSyncer(s TradeSyncer) { l.syncer = s }

// Open 下市价买单并创建 OPENING 持仓。下单同步失败时不创建持仓。
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (position.Position, error) {
	if err := validateOpen(req); err != nil {
		return position.Position{}, err
	}

	unlock := l.openLocks.Lock(req.StrategyID + "|" + req.Pair.String())
	pos, notify, err := l.open(ctx, req)
	unlock()

	l.emit(ctx, notify...)
	return pos, err
}

func validateOpen(req OpenRequest) error {
	switch {
	case req.StrategyID == "":
		return fmt.Errorf("%w: strategy id is required", ErrInvalidRequest)
	case !req.Pair.Valid():
		return fmt.Errorf("%w: invalid currency pair", ErrInvalidRequest)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case req.Rules.StopGainPercentage.IsNegative() || req.Rules.StopLossPercentage.IsNegative():
		return fmt.Errorf("%w: rule percentages must not be negative", ErrInvalidRequest)
	}
	return nil
}

func (l *Ledger) open(ctx context.Context, req OpenRequest) (position.Position, []position.Position, error) {
	if !req.AllowConcurrent {
		existing, err := l.store.Positions().FindPositionsByStrategy(ctx, req.StrategyID)
		if err != nil {
			return position.Position{}, nil, err
		}
		for _, p := range existing {
			if p.Pair == req.Pair && p.IsOpen() {
				return position.Position{}, nil, fmt.Errorf("%w: %s on %s (%s)", ErrDuplicatePosition, p.ID, p.Pair, p.Status)
			}
		}
	}
	if l.guard != nil {
		if err := l.guard.PreOpen(ctx, risk.Request{StrategyID: req.StrategyID, Pair: req.Pair, Amount: req.Amount}); err != nil {
			return position.Position{}, nil, fmt.Errorf("risk check: %w", err)
		}
	}

	orderReq := gateway.NewMarketOrder(req.StrategyID, order.TypeBuy, req.Pair, req.Amount)
	h, err := l.exchange.PlaceOrder(ctx, orderReq)
	if err != nil {
		return position.Position{}, nil, fmt.Errorf("place opening order: %w", err)
	}
	o := orderReq.ToOrder(h)
	if err := l.store.Orders().SaveOrder(ctx, o); err != nil {
		l.log.LogError(err, map[string]interface{}{"action": "save_opening_order", "order_id": o.ID})
		return position.Position{}, nil, l.orphaned(ctx, o.ID, err)
	}

	now := l.now()
	p := position.Position{
		ID:             uuid.NewString(),
		StrategyID:     req.StrategyID,
		Pair:           req.Pair,
		Status:         position.StatusOpening,
		OpeningOrderID: o.ID,
		Amount:         req.Amount,
		Rules:          req.Rules,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	unlock := l.posLocks.Lock(p.ID)
	defer unlock()
	if err := l.store.Positions().SavePosition(ctx, p); err != nil {
		l.log.LogError(err, map[string]interface{}{"action": "save_position", "order_id": o.ID})
		return position.Position{}, nil, l.orphaned(ctx, o.ID, err)
	}
	l.transitioned(p, "NEW")
	notify := []position.Position{p}

	// 订单事件可能早于持仓落库，落库后立即按已持久化的订单与成交推进一次
	if changed, err := l.advance(ctx, &p); err != nil {
		l.log.LogError(err, map[string]interface{}{"action": "advance", "position_id": p.ID})
	} else if changed {
		notify = append(notify, p)
	}
	return p, notify, nil
}

// orphaned 开仓单已在交易所生效但本地落库失败，尽力撤单，避免留下无主的活动订单。
func (l *Ledger) orphaned(ctx context.Context, orderID string, cause error) error {
	oe := &OrphanedOrderError{OrderID: orderID, Err: cause}
	if err := l.exchange.CancelOrder(ctx, orderID); err != nil {
		oe.CancelErr = err
		l.log.LogError(err, map[string]interface{}{"action": "cancel_orphaned_order", "order_id": orderID})
	} else {
		oe.Cancelled = true
	}
	l.log.Warn("opening order orphaned", zap.String("order_id", orderID), zap.Bool("cancelled", oe.Cancelled))
	return oe
}

// Close 对 OPENED 持仓下市价卖单，持仓进入 CLOSING。
func (l *Ledger) Close(ctx context.Context, strategyID, positionID string) error {
	unlock := l.posLocks.Lock(positionID)
	notify, err := l.close(ctx, strategyID, positionID)
	unlock()

	l.emit(ctx, notify...)
	return err
}

func (l *Ledger) close(ctx context.Context, strategyID, positionID string) ([]position.Position, error) {
	p, err := l.load(ctx, strategyID, positionID)
	if err != nil {
		return nil, err
	}
	if p.Status != position.StatusOpened {
		return nil, fmt.Errorf("%w: close requires OPENED, position %s is %s", ErrInvalidState, p.ID, p.Status)
	}
	if err := l.placeClosing(ctx, &p, position.StatusClosing); err != nil {
		return nil, err
	}
	notify := []position.Position{p}
	if changed, err := l.advance(ctx, &p); err != nil {
		l.log.LogError(err, map[string]interface{}{"action": "advance", "position_id": p.ID})
	} else if changed {
		notify = append(notify, p)
	}
	return notify, nil
}

// ForceClose 撤销未完成的开仓订单，同步迟到的成交后按实际成交量平仓；
// 完全没有成交时直接以零数量关闭。
func (l *Ledger) ForceClose(ctx context.Context, strategyID, positionID string) error {
	p, err := l.load(ctx, strategyID, positionID)
	if err != nil {
		return err
	}
	if !forceClosable(p.Status) {
		return fmt.Errorf("%w: force close requires OPENING or OPENED, position %s is %s", ErrInvalidState, p.ID, p.Status)
	}

	l.setForcing(p.ID, true)
	defer l.setForcing(p.ID, false)

	if p.Status == position.StatusOpening {
		// 锁外撤单与同步：同步产生的事件会回到 ledger 的事件处理，需要持仓锁
		if err := l.cancelOpening(ctx, p); err != nil {
			return err
		}
	}

	unlock := l.posLocks.Lock(positionID)
	notify, err := l.forceClose(ctx, positionID)
	unlock()

	l.emit(ctx, notify...)
	return err
}

func forceClosable(s position.Status) bool {
	return s == position.StatusOpening || s == position.StatusOpened
}

func (l *Ledger) cancelOpening(ctx context.Context, p position.Position) error {
	o, err := l.store.Orders().FindOrder(ctx, p.OpeningOrderID)
	if err != nil {
		return fmt.Errorf("load opening order: %w", err)
	}
	if !o.IsTerminal() {
		if err := l.exchange.CancelOrder(ctx, o.ID); err != nil && !errors.Is(err, gateway.ErrOrderNotFound) {
			return fmt.Errorf("cancel opening order: %w", err)
		}
	}
	if l.syncer != nil {
		if err := l.syncer.SyncOrderTrades(ctx, o.ID); err != nil {
			return fmt.Errorf("sync opening order: %w", err)
		}
	}
	return nil
}

func (l *Ledger) forceClose(ctx context.Context, positionID string) ([]position.Position, error) {
	p, err := l.findPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if !forceClosable(p.Status) {
		return nil, fmt.Errorf("%w: position %s became %s", ErrInvalidState, p.ID, p.Status)
	}

	if p.Status == position.StatusOpening {
		o, err := l.store.Orders().FindOrder(ctx, p.OpeningOrderID)
		if err != nil {
			return nil, fmt.Errorf("load opening order: %w", err)
		}
		if !o.IsTerminal() {
			// 撤单尚未在交易所生效，成交量还可能变化
			return nil, gateway.Transient("force_close", fmt.Errorf("opening order %s still %s after cancel", o.ID, o.Status))
		}
		fills, err := l.fills(ctx, p.OpeningOrderID)
		if err != nil {
			return nil, err
		}
		if fills.Amount.LessThan(o.FilledAmount) {
			// 订单状态已到，成交明细还没同步齐
			return nil, gateway.Transient("force_close", fmt.Errorf("opening order %s filled %s but only %s of trades stored", o.ID, o.FilledAmount, fills.Amount))
		}
		if fills.Empty() {
			from := p.Status
			p.Amount = decimal.Zero
			if err := p.TransitionTo(position.StatusClosed); err != nil {
				return nil, err
			}
			if err := l.save(ctx, &p); err != nil {
				return nil, err
			}
			l.transitioned(p, from)
			return []position.Position{p}, nil
		}
		p.Amount = fills.Amount
		p.OpeningAveragePrice = fills.AveragePrice
		p.OpeningFees = fills.Fees
	}

	if err := l.placeClosing(ctx, &p, position.StatusForceClosing); err != nil {
		if p.Status != position.StatusOpening {
			return nil, err
		}
		// 开仓单已撤，部分成交成为持仓数量；平仓失败后保留为 OPENED 并标记错误
		from := p.Status
		p.Fail(err.Error())
		if terr := p.TransitionTo(position.StatusOpened); terr != nil {
			return nil, errors.Join(err, terr)
		}
		if serr := l.save(ctx, &p); serr != nil {
			return nil, errors.Join(err, serr)
		}
		l.transitioned(p, from)
		return []position.Position{p}, err
	}

	notify := []position.Position{p}
	if changed, err := l.advance(ctx, &p); err != nil {
		l.log.LogError(err, map[string]interface{}{"action": "advance", "position_id": p.ID})
	} else if changed {
		notify = append(notify, p)
	}
	return notify, nil
}

// placeClosing 下市价卖单并迁移到 target。调用方持有持仓锁。
// 失败时 p 保持不变。
func (l *Ledger) placeClosing(ctx context.Context, p *position.Position, target position.Status) error {
	req := gateway.NewMarketOrder(p.StrategyID, order.TypeSell, p.Pair, p.Remaining())
	h, err := l.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("place closing order: %w", err)
	}
	o := req.ToOrder(h)
	if err := l.store.Orders().SaveOrder(ctx, o); err != nil {
		l.log.LogError(err, map[string]interface{}{"action": "save_closing_order", "order_id": o.ID})
		return err
	}

	next := *p
	from := next.Status
	next.ClosingOrderID = o.ID
	next.Error = false
	next.ErrorMessage = ""
	if err := next.TransitionTo(target); err != nil {
		return err
	}
	if err := l.save(ctx, &next); err != nil {
		return err
	}
	*p = next
	l.transitioned(*p, from)
	return nil
}

// Position 按 id 读取持仓。
func (l *Ledger) Position(ctx context.Context, positionID string) (position.Position, error) {
	return l.findPosition(ctx, positionID)
}

// Positions 返回策略的全部持仓。
func (l *Ledger) Positions(ctx context.Context, strategyID string) ([]position.Position, error) {
	return l.store.Positions().FindPositionsByStrategy(ctx, strategyID)
}

func (l *Ledger) load(ctx context.Context, strategyID, positionID string) (position.Position, error) {
	p, err := l.findPosition(ctx, positionID)
	if err != nil {
		return position.Position{}, err
	}
	if p.StrategyID != strategyID {
		return position.Position{}, fmt.Errorf("%w: %s", ErrForeignPosition, positionID)
	}
	return p, nil
}

func (l *Ledger) findPosition(ctx context.Context, positionID string) (position.Position, error) {
	p, err := l.store.Positions().FindPosition(ctx, positionID)
	if errors.Is(err, store.ErrNotFound) {
		return position.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	return p, err
}

func (l *Ledger) fills(ctx context.Context, orderID string) (order.Fills, error) {
	trades, err := l.store.Trades().FindTradesByOrder(ctx, orderID)
	if err != nil {
		return order.Fills{}, err
	}
	return order.Aggregate(orderID, trades), nil
}

func (l *Ledger) save(ctx context.Context, p *position.Position) error {
	p.UpdatedAt = l.now()
	return l.store.Positions().SavePosition(ctx, *p)
}

func (l *Ledger) setForcing(id string, on bool) {
	l.forcingMu.Lock()
	defer l.forcingMu.Unlock()
	if on {
		l.forcing[id] = struct{}{}
	} else {
		delete(l.forcing, id)
	}
}

func (l *Ledger) isForcing(id string) bool {
	l.forcingMu.Lock()
	defer l.forcingMu.Unlock()
	_, ok := l.forcing[id]
	return ok
}

func (l *Ledger) transitioned(p position.Position, from position.Status) {
	if from == p.Status {
		return
	}
	l.mon.RecordPositionTransition(string(from), string(p.Status))
	fields := map[string]interface{}{
		"from":     string(from),
		"to":       string(p.Status),
		"strategy": p.StrategyID,
		"pair":     p.Pair.String(),
		"amount":   p.Amount.String(),
	}
	if p.Error {
		fields["error"] = p.ErrorMessage
	}
	l.log.LogPosition("transition", p.ID, fields)
}

// emit 逐个通知；调用时不得持有任何持仓锁。
func (l *Ledger) emit(ctx context.Context, ps ...position.Position) {
	if l.listener == nil {
		return
	}
	for _, p := range ps {
		l.listener(ctx, p)
	}
}

func (l *Ledger) debug(msg string, fields ...zap.Field) {
	l.log.Debug(msg, fields...)
}
