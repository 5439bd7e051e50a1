// Package sim 提供纸面交易所，实现 gateway.Exchange，用于演练和测试。
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot-go/gateway"
	"tradebot-go/market"
	"tradebot-go/order"
)

// ErrUnknownPair 没有该交易对的行情。
var ErrUnknownPair = errors.New("sim: no ticker for pair")

// Config 纸面交易所配置
type Config struct {
	FeeRate   decimal.Decimal // 手续费率，按成交额计
	FillRatio decimal.Decimal // 每次 Step 成交的比例 (0,1]，零值按 1 处理
	Tickers   []market.Ticker // 初始行情
}

type paperOrder struct {
	order  order.Order
	trades []order.Trade
	fail   string // 非空时下一次 Step 进入 ERROR
}

// PaperExchange 模拟交易所（用于演练和集成测试）
type PaperExchange struct {
	mu sync.RWMutex

	feeRate   decimal.Decimal
	fillRatio decimal.Decimal
	autoFill  bool

	tickers map[market.CurrencyPair]market.Ticker
	orders  map[string]*paperOrder
	seq     []string // 下单顺序

	rejectNext error
	failNext   string
	lastTS     time.Time
	now        func() time.Time

	// 统计
	placeCount  int
	cancelCount int
}

var _ gateway.Exchange = (*PaperExchange)(nil)

// NewPaperExchange 创建纸面交易所。
func NewPaperExchange(cfg Config) *PaperExchange {
	ratio := cfg.FillRatio
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	p := &PaperExchange{
		feeRate:   cfg.FeeRate,
		fillRatio: ratio,
		autoFill:  true,
		tickers:   make(map[market.CurrencyPair]market.Ticker),
		orders:    make(map[string]*paperOrder),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, t := range cfg.Tickers {
		p.tickers[t.Pair] = t
	}
	return p
}

// SetClock 替换时钟，测试用。
func (p *PaperExchange) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetAutoFill 关闭后 Step 不再自动撮合，只能通过 Fill 手动成交。
func (p *PaperExchange) SetAutoFill(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoFill = enabled
}

// SetTicker 更新某交易对行情。
func (p *PaperExchange) SetTicker(t market.Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickers[t.Pair] = t
}

// RejectNextOrder 下一次 PlaceOrder 同步失败。
func (p *PaperExchange) RejectNextOrder(err error) {
	if err == nil {
		err = gateway.ErrRejected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = err
}

// FailNextOrder 下一笔订单会被受理，但在下一次 Step 进入 ERROR。
func (p *PaperExchange) FailNextOrder(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = reason
}

// FailOrder 指定订单在下一次 Step 进入 ERROR。
func (p *PaperExchange) FailOrder(orderID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[orderID]
	if !ok {
		return gateway.ErrOrderNotFound
	}
	po.fail = reason
	return nil
}

// PlaceOrder 下单（实现 gateway.Exchange 接口）
func (p *PaperExchange) PlaceOrder(_ context.Context, req gateway.OrderRequest) (gateway.OrderHandle, error) {
	if err := req.Validate(); err != nil {
		return gateway.OrderHandle{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.placeCount++
	if err := p.rejectNext; err != nil {
		p.rejectNext = nil
		return gateway.OrderHandle{}, err
	}
	if _, ok := p.tickers[req.Pair]; !ok {
		return gateway.OrderHandle{}, fmt.Errorf("%w: %s", gateway.ErrRejected, req.Pair)
	}

	ts := p.tick()
	id := "paper-" + uuid.NewString()
	o := req.ToOrder(gateway.OrderHandle{OrderID: id, Status: order.StatusNew, CreatedAt: ts})
	po := &paperOrder{order: o}
	if p.failNext != "" {
		po.fail = p.failNext
		p.failNext = ""
	}
	p.orders[id] = po
	p.seq = append(p.seq, id)
	return gateway.OrderHandle{OrderID: id, Status: o.Status, CreatedAt: ts}, nil
}

// CancelOrder 撤单。已终态的订单视为成功。
func (p *PaperExchange) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelCount++
	po, ok := p.orders[orderID]
	if !ok {
		return gateway.ErrOrderNotFound
	}
	if po.order.IsTerminal() {
		return nil
	}
	po.order.Status = order.StatusCancelled
	po.order.UpdatedAt = p.tick()
	return nil
}

// GetOrder 查询订单快照
func (p *PaperExchange) GetOrder(_ context.Context, orderID string) (order.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	po, ok := p.orders[orderID]
	if !ok {
		return order.Order{}, gateway.ErrOrderNotFound
	}
	return po.order, nil
}

// GetTrades 查询订单成交
func (p *PaperExchange) GetTrades(_ context.Context, orderID string) ([]order.Trade, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	po, ok := p.orders[orderID]
	if !ok {
		return nil, gateway.ErrOrderNotFound
	}
	return append([]order.Trade(nil), po.trades...), nil
}

// GetTicker 返回当前行情
func (p *PaperExchange) GetTicker(_ context.Context, pair market.CurrencyPair) (market.Ticker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tickers[pair]
	if !ok {
		return market.Ticker{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return t, nil
}

// Step 撮合一轮：标记失败的订单进入 ERROR，其余活动订单按 FillRatio 成交。
func (p *PaperExchange) Step() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.seq {
		po := p.orders[id]
		if po.order.IsTerminal() {
			continue
		}
		if po.fail != "" {
			po.order.Status = order.StatusError
			po.order.LastError = po.fail
			po.order.UpdatedAt = p.tick()
			continue
		}
		if !p.autoFill {
			continue
		}
		t := p.tickers[po.order.Pair]
		price, ok := crossPrice(po.order, t)
		if !ok {
			continue
		}
		chunk := po.order.Amount.Mul(p.fillRatio)
		if rem := po.order.Remaining(); chunk.GreaterThan(rem) || p.fillRatio.Equal(decimal.NewFromInt(1)) {
			chunk = rem
		}
		p.fill(po, chunk, price)
	}
}

// Fill 按指定数量和价格手动成交，测试用。
func (p *PaperExchange) Fill(orderID string, amount, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[orderID]
	if !ok {
		return gateway.ErrOrderNotFound
	}
	if po.order.IsTerminal() {
		return fmt.Errorf("sim: order %s is %s", orderID, po.order.Status)
	}
	if amount.GreaterThan(po.order.Remaining()) {
		amount = po.order.Remaining()
	}
	p.fill(po, amount, price)
	return nil
}

// Run 周期性调用 Step 直到 ctx 结束。
func (p *PaperExchange) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Step()
		}
	}
}

// Orders 返回全部订单快照，按下单顺序。
func (p *PaperExchange) Orders() []order.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res := make([]order.Order, 0, len(p.seq))
	for _, id := range p.seq {
		res = append(res, p.orders[id].order)
	}
	return res
}

// Stats 返回下单、撤单调用次数。
func (p *PaperExchange) Stats() (placed, cancelled int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.placeCount, p.cancelCount
}

func (p *PaperExchange) fill(po *paperOrder, amount, price decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	ts := p.tick()
	trade := order.Trade{
		ID:        fmt.Sprintf("%s-t%d", po.order.ID, len(po.trades)+1),
		OrderID:   po.order.ID,
		Amount:    amount,
		Price:     price,
		Fee:       amount.Mul(price).Mul(p.feeRate),
		Timestamp: ts,
	}
	po.trades = append(po.trades, trade)
	sort.SliceStable(po.trades, func(i, j int) bool { return po.trades[i].Timestamp.Before(po.trades[j].Timestamp) })

	po.order.FilledAmount = po.order.FilledAmount.Add(amount)
	po.order.UpdatedAt = ts
	if po.order.FilledAmount.GreaterThanOrEqual(po.order.Amount) {
		po.order.Status = order.StatusFilled
	} else {
		po.order.Status = order.StatusPartiallyFilled
	}
}

// tick 返回严格递增的时间戳，保证成交顺序可比较。
func (p *PaperExchange) tick() time.Time {
	ts := p.now()
	if !ts.After(p.lastTS) {
		ts = p.lastTS.Add(time.Microsecond)
	}
	p.lastTS = ts
	return ts
}

// crossPrice 市价单按对手价成交；限价单只有在穿价时按限价成交。
func crossPrice(o order.Order, t market.Ticker) (decimal.Decimal, bool) {
	switch o.Type {
	case order.TypeBuy:
		ask := t.Ask
		if !ask.IsPositive() {
			ask = t.Price()
		}
		if !ask.IsPositive() {
			return decimal.Zero, false
		}
		if o.IsMarket() {
			return ask, true
		}
		return o.LimitPrice, o.LimitPrice.GreaterThanOrEqual(ask)
	case order.TypeSell:
		bid := t.Bid
		if !bid.IsPositive() {
			bid = t.Price()
		}
		if !bid.IsPositive() {
			return decimal.Zero, false
		}
		if o.IsMarket() {
			return bid, true
		}
		return o.LimitPrice, o.LimitPrice.LessThanOrEqual(bid)
	}
	return decimal.Zero, false
}
