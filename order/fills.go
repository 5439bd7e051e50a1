package order

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Fills 某个订单的成交汇总。
type Fills struct {
	Trades       []Trade
	Amount       decimal.Decimal
	Notional     decimal.Decimal
	Fees         decimal.Decimal
	AveragePrice decimal.Decimal
}

// SortTrades 按交易所时间戳排序，时间相同按 ID 保证稳定。
func SortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Timestamp.Equal(trades[j].Timestamp) {
			return trades[i].ID < trades[j].ID
		}
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
}

// Aggregate 按时间戳顺序累计成交，计算数量加权均价。
// 只统计 orderID 匹配的成交；orderID 为空时统计全部。
func Aggregate(orderID string, trades []Trade) Fills {
	matched := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if orderID != "" && t.OrderID != orderID {
			continue
		}
		matched = append(matched, t)
	}
	SortTrades(matched)

	f := Fills{Trades: matched}
	for _, t := range matched {
		f.Amount = f.Amount.Add(t.Amount)
		f.Notional = f.Notional.Add(t.Notional())
		f.Fees = f.Fees.Add(t.Fee)
	}
	if f.Amount.IsPositive() {
		f.AveragePrice = f.Notional.DivRound(f.Amount, 12)
	}
	return f
}

// Covers 成交量是否已覆盖目标数量。
func (f Fills) Covers(amount decimal.Decimal) bool {
	return f.Amount.IsPositive() && f.Amount.GreaterThanOrEqual(amount)
}

// Empty 是否尚无成交。
func (f Fills) Empty() bool {
	return !f.Amount.IsPositive()
}
