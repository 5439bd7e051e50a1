package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker 某一时刻的行情快照，不可变。
// 同一交易对以 Timestamp 更新者为准，历史快照不删除。
type Ticker struct {
	Pair      CurrencyPair
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// NewTicker 构造行情快照。
func NewTicker(pair CurrencyPair, bid, ask, last decimal.Decimal, ts time.Time) Ticker {
	return Ticker{Pair: pair, Bid: bid, Ask: ask, Last: last, Timestamp: ts.UTC()}
}

// Mid 返回中间价；bid/ask 缺失时退化为 last。
func (t Ticker) Mid() decimal.Decimal {
	if t.Bid.IsPositive() && t.Ask.IsPositive() {
		return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	}
	return t.Last
}

// NewerThan 判断是否比 other 更新（跨交易对比较无意义，返回 false）。
func (t Ticker) NewerThan(other Ticker) bool {
	if t.Pair != other.Pair {
		return false
	}
	return t.Timestamp.After(other.Timestamp)
}

// Price 用于持仓统计的价格，优先 last。
func (t Ticker) Price() decimal.Decimal {
	if t.Last.IsPositive() {
		return t.Last
	}
	return t.Mid()
}
