package position

import (
	"time"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
)

// Status 持仓生命周期状态。
type Status string

const (
	StatusOpening      Status = "OPENING"
	StatusOpened       Status = "OPENED"
	StatusClosing      Status = "CLOSING"
	StatusClosed       Status = "CLOSED"
	StatusForceClosing Status = "FORCE_CLOSING"
)

// LiveStatuses 非终态。
var LiveStatuses = []Status{StatusOpening, StatusOpened, StatusClosing, StatusForceClosing}

// Position 一次 BUY 开仓、SELL 平仓的完整敞口。
//
// OPENED 及之后状态下，开仓订单的成交之和等于 Amount；
// CLOSED 且 Amount 非零时，所有平仓订单（含此前被撤的部分成交单）的成交之和同样等于 Amount。
type Position struct {
	ID             string
	StrategyID     string
	Pair           market.CurrencyPair
	Status         Status
	OpeningOrderID string
	ClosingOrderID string
	Amount         decimal.Decimal

	OpeningAveragePrice decimal.Decimal
	ClosingAveragePrice decimal.Decimal
	OpeningFees         decimal.Decimal
	ClosingFees         decimal.Decimal

	// 被撤或出错的平仓单已卖出的数量与成交额，下一次平仓只卖剩余部分
	ClosedAmount   decimal.Decimal
	ClosedNotional decimal.Decimal

	LowestPrice  decimal.Decimal
	HighestPrice decimal.Decimal
	LatestPrice  decimal.Decimal

	Rules Rules

	Error        bool
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClosed 终态。
func (p Position) IsClosed() bool {
	return p.Status == StatusClosed
}

// IsOpen 是否仍占用 (strategy, pair) 的持仓名额。
func (p Position) IsOpen() bool {
	return p.Status != StatusClosed
}

// Remaining 尚未卖出的数量。
func (p Position) Remaining() decimal.Decimal {
	return p.Amount.Sub(p.ClosedAmount)
}

// OwnsOrder 订单是否属于该持仓（开仓或平仓）。
func (p Position) OwnsOrder(orderID string) bool {
	return orderID != "" && (p.OpeningOrderID == orderID || p.ClosingOrderID == orderID)
}

// ObservePrice 更新最新价，并单调扩展最高/最低价。返回是否有变化。
func (p *Position) ObservePrice(price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	changed := !p.LatestPrice.Equal(price)
	p.LatestPrice = price
	if p.LowestPrice.IsZero() || price.LessThan(p.LowestPrice) {
		p.LowestPrice = price
		changed = true
	}
	if price.GreaterThan(p.HighestPrice) {
		p.HighestPrice = price
		changed = true
	}
	return changed
}

// Fail 标记错误并记录原因。
func (p *Position) Fail(msg string) {
	p.Error = true
	p.ErrorMessage = msg
}
