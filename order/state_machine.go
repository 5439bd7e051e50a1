package order

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition 交易所回报的状态变化不合法（例如终态被改写）。
var ErrIllegalTransition = errors.New("illegal order state transition")

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从NEW可以转到
		{StatusNew, StatusPending},
		{StatusNew, StatusPartiallyFilled},
		{StatusNew, StatusFilled},
		{StatusNew, StatusCancelled},
		{StatusNew, StatusError},

		// 从PENDING可以转到
		{StatusPending, StatusPartiallyFilled},
		{StatusPending, StatusFilled},
		{StatusPending, StatusCancelled},
		{StatusPending, StatusError},

		// 从PARTIALLY_FILLED可以转到
		{StatusPartiallyFilled, StatusPartiallyFilled}, // 多次部分成交
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusCancelled},
		{StatusPartiallyFilled, StatusError},

		// 终态不能转换（FILLED, CANCELLED, ERROR）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current Status) []Status {
	allowed := make([]Status, 0)
	for transition := range sm.transitions {
		if transition.From == current && transition.To != current {
			allowed = append(allowed, transition.To)
		}
	}
	return allowed
}

// IsFinalStatus 判断是否是终态
func IsFinalStatus(status Status) bool {
	switch status {
	case StatusFilled, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// IsActiveStatus 判断是否是活跃状态（可能产生成交）
func IsActiveStatus(status Status) bool {
	switch status {
	case StatusNew, StatusPending, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}
