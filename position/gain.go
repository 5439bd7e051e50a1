package position

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Gain 持仓收益。Amount 以计价币种表示，已扣除手续费。
type Gain struct {
	Percentage decimal.Decimal
	Amount     decimal.Decimal
	Fees       decimal.Decimal
	Realized   bool
}

// Gain 计算收益：CLOSED 为已实现收益，其余状态按最新价计算浮动收益，
// 已部分卖出的数量按实际成交额计入。尚未成交或无价格时返回零值。
func (p Position) Gain() Gain {
	if !p.OpeningAveragePrice.IsPositive() || !p.Amount.IsPositive() {
		return Gain{}
	}
	var exit decimal.Decimal
	fees := p.OpeningFees.Add(p.ClosingFees)
	realized := false
	if p.Status == StatusClosed {
		if !p.ClosingAveragePrice.IsPositive() {
			return Gain{}
		}
		exit = p.ClosingAveragePrice
		realized = true
	} else {
		if !p.LatestPrice.IsPositive() {
			return Gain{}
		}
		proceeds := p.ClosedNotional.Add(p.LatestPrice.Mul(p.Remaining()))
		exit = proceeds.Div(p.Amount)
	}
	diff := exit.Sub(p.OpeningAveragePrice)
	return Gain{
		Percentage: diff.Div(p.OpeningAveragePrice).Mul(hundred).Round(4),
		Amount:     diff.Mul(p.Amount).Sub(fees),
		Fees:       fees,
		Realized:   realized,
	}
}
