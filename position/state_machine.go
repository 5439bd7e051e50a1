package position

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition 非法的持仓状态转换。
var ErrIllegalTransition = errors.New("illegal position state transition")

type transition struct {
	from Status
	to   Status
}

var legalTransitions = map[transition]bool{
	{StatusOpening, StatusOpened}:       true,
	{StatusOpening, StatusForceClosing}: true,
	{StatusOpening, StatusClosed}:       true, // 开仓失败或强平时无成交

	{StatusOpened, StatusClosing}:      true,
	{StatusOpened, StatusForceClosing}: true,

	{StatusClosing, StatusClosed}: true,
	{StatusClosing, StatusOpened}: true, // 平仓订单失败，回退

	{StatusForceClosing, StatusClosed}: true,
	{StatusForceClosing, StatusOpened}: true,
}

// ValidateTransition 校验状态转换，相同状态视为幂等。
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !legalTransitions[transition{from, to}] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// TransitionTo 校验并修改状态。
func (p *Position) TransitionTo(to Status) error {
	if err := ValidateTransition(p.Status, to); err != nil {
		return fmt.Errorf("position %s: %w", p.ID, err)
	}
	p.Status = to
	return nil
}
