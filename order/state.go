package order

import (
	"time"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
)

// Status represents order lifecycle as reported by the exchange.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPending         Status = "PENDING"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusError           Status = "ERROR"
)

// ActiveStatuses 仍可能产生成交的状态，对账轮询只关心这些订单。
var ActiveStatuses = []Status{StatusNew, StatusPending, StatusPartiallyFilled}

// Type 订单方向。
type Type string

const (
	TypeBuy  Type = "BUY"
	TypeSell Type = "SELL"
)

// Order holds the locally tracked view of an exchange order.
// StrategyID / ClientOrderID / CreatedAt 由本地写入，其余字段以交易所回报为准。
type Order struct {
	ID            string
	ClientOrderID string
	Type          Type
	Pair          market.CurrencyPair
	Amount        decimal.Decimal
	LimitPrice    decimal.Decimal // 零值表示市价单
	Status        Status
	FilledAmount  decimal.Decimal
	StrategyID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastError     string
}

// IsMarket 是否市价单。
func (o Order) IsMarket() bool {
	return o.LimitPrice.IsZero()
}

// IsTerminal 终态订单不再变化。
func (o Order) IsTerminal() bool {
	return IsFinalStatus(o.Status)
}

// SameState 判断两个快照是否等价（状态与成交量一致）。
func (o Order) SameState(other Order) bool {
	return o.Status == other.Status && o.FilledAmount.Equal(other.FilledAmount) && o.LastError == other.LastError
}

// Remaining 未成交数量。
func (o Order) Remaining() decimal.Decimal {
	r := o.Amount.Sub(o.FilledAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}
