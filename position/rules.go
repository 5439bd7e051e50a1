package position

import "github.com/shopspring/decimal"

// Rules 自动平仓规则，零值表示不启用。百分比以 100 为基数（5 表示 5%）。
type Rules struct {
	StopGainPercentage decimal.Decimal
	StopLossPercentage decimal.Decimal
}

// NoRules 不设置止盈止损。
var NoRules = Rules{}

func (r Rules) HasStopGain() bool { return r.StopGainPercentage.IsPositive() }
func (r Rules) HasStopLoss() bool { return r.StopLossPercentage.IsPositive() }

// Triggered 根据当前收益百分比判断是否需要平仓，返回触发原因。
func (r Rules) Triggered(gainPercentage decimal.Decimal) (bool, string) {
	if r.HasStopGain() && gainPercentage.GreaterThanOrEqual(r.StopGainPercentage) {
		return true, "stop_gain"
	}
	if r.HasStopLoss() && gainPercentage.LessThanOrEqual(r.StopLossPercentage.Neg()) {
		return true, "stop_loss"
	}
	return false, ""
}
