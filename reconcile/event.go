package reconcile

import (
	"context"
	"fmt"

	"tradebot-go/market"
	"tradebot-go/order"
)

// EventKind 归一化后的变化事件类型。
type EventKind string

const (
	EventOrderUpdated  EventKind = "order_updated"
	EventTradeAdded    EventKind = "trade_added"
	EventTickerUpdated EventKind = "ticker_updated"
	EventError         EventKind = "error"
)

// Event 对账产出的事件，只有与 Kind 对应的字段有值。
type Event struct {
	Kind   EventKind
	Order  order.Order
	Trade  order.Trade
	Ticker market.Ticker
	Err    error
}

// Sink 同步消费事件，按产生顺序逐个调用。
type Sink func(ctx context.Context, ev Event)

// InvariantViolation 交易所数据与本地状态矛盾：该条被跳过，本轮其余数据继续处理。
type InvariantViolation struct {
	Kind    string // unknown_order, illegal_transition, filled_regressed
	Subject string // 相关的订单或成交 id
	Err     error
}

func (v *InvariantViolation) Error() string {
	if v.Err != nil {
		return fmt.Sprintf("invariant violation %s on %s: %v", v.Kind, v.Subject, v.Err)
	}
	return fmt.Sprintf("invariant violation %s on %s", v.Kind, v.Subject)
}

func (v *InvariantViolation) Unwrap() error { return v.Err }
