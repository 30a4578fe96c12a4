package autotrade

import "fmt"

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 自动策略状态机
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[StateTransition]bool)}
	for _, t := range []StateTransition{
		// start
		{StatusNone, StatusActive},
		{StatusClosed, StatusActive},

		{StatusActive, StatusPaused},
		{StatusPaused, StatusActive},

		// stop 保留持仓
		{StatusActive, StatusStopped},
		{StatusPaused, StatusStopped},

		// 持仓清空后才能关闭
		{StatusStopped, StatusClosed},
	} {
		sm.transitions[t] = true
	}
	return sm
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal strategy transition: %s -> %s", from, to)
	}
	return nil
}

// CanSell 只有暂停或停止的策略允许手动卖出持仓。
func (sm *StateMachine) CanSell(status Status) bool {
	return status == StatusPaused || status == StatusStopped
}

var lifecycleOrder = []Status{StatusNone, StatusActive, StatusPaused, StatusStopped, StatusClosed}

// AllowedTransitions 返回当前状态可迁移到的状态，按生命周期顺序。
func (sm *StateMachine) AllowedTransitions(current Status) []Status {
	allowed := make([]Status, 0)
	for _, to := range lifecycleOrder {
		if to != current && sm.transitions[StateTransition{From: current, To: to}] {
			allowed = append(allowed, to)
		}
	}
	return allowed
}
