package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade 成交记录，只追加不修改，且必然归属一个订单。
type Trade struct {
	ID        string
	OrderID   string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Notional 成交额。
func (t Trade) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}
