package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolConstraints 描述交易对的步长与数量限制。
type SymbolConstraints struct {
	StepSize  decimal.Decimal
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
}

// Validate 检查下单数量是否符合精度与上下限。
func (c SymbolConstraints) Validate(amount decimal.Decimal) error {
	if c.StepSize.IsPositive() && !amount.Mod(c.StepSize).IsZero() {
		return fmt.Errorf("amount %s not aligned to stepSize %s", amount, c.StepSize)
	}
	if c.MinAmount.IsPositive() && amount.LessThan(c.MinAmount) {
		return fmt.Errorf("amount %s < minAmount %s", amount, c.MinAmount)
	}
	if c.MaxAmount.IsPositive() && amount.GreaterThan(c.MaxAmount) {
		return fmt.Errorf("amount %s > maxAmount %s", amount, c.MaxAmount)
	}
	return nil
}
