package ledger

import (
	"errors"
	"fmt"
)

// 用户请求错误：同步返回，不产生任何副作用。
var (
	ErrInvalidRequest    = errors.New("ledger: invalid request")
	ErrDuplicatePosition = errors.New("ledger: position already open for strategy and pair")
	ErrInvalidState      = errors.New("ledger: operation not allowed in current position state")
	ErrPositionNotFound  = errors.New("ledger: position not found")
	ErrForeignPosition   = errors.New("ledger: position belongs to another strategy")
)

// OrphanedOrderError 开仓单已下到交易所，但订单或持仓落库失败。
// Cancelled 为 false 时订单可能仍在交易所活动，需人工处理。
type OrphanedOrderError struct {
	OrderID   string
	Cancelled bool
	CancelErr error
	Err       error
}

func (e *OrphanedOrderError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("ledger: opening order %s cancelled after persistence failure: %v", e.OrderID, e.Err)
	}
	return fmt.Sprintf("ledger: opening order %s orphaned (cancel failed: %v): %v", e.OrderID, e.CancelErr, e.Err)
}

func (e *OrphanedOrderError) Unwrap() error { return e.Err }
