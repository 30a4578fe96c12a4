package order

import (
	"fmt"
	"sort"
)

// StateTransition 状态转换
type StateTransition struct {
	From FlowState
	To   FlowState
}

// StateMachine 手动下单状态机
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
		// 草稿校验通过，发起询价
		{StateDrafting, StatePriceConfirmation},

		// 确认执行，或取消回到空草稿
		{StatePriceConfirmation, StateExecuting},
		{StatePriceConfirmation, StateDrafting},

		{StateExecuting, StateSucceeded},
		{StateExecuting, StateFailed},

		// 失败后可用同一报价重新确认
		{StateFailed, StateExecuting},

		// reset
		{StateSucceeded, StateDrafting},
		{StateFailed, StateDrafting},
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to FlowState) error {
	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current FlowState) []FlowState {
	allowed := make([]FlowState, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed
}

// IsFinalState 终态只能通过 Reset 离开。
func (sm *StateMachine) IsFinalState(state FlowState) bool {
	return state == StateSucceeded || state == StateFailed
}

// CanCancel 判断当前状态下是否可以取消
func (sm *StateMachine) CanCancel(state FlowState) bool {
	return state == StateDrafting || state == StatePriceConfirmation
}

// GetStateDescription 获取状态描述，供界面展示。
func (sm *StateMachine) GetStateDescription(state FlowState) string {
	descriptions := map[FlowState]string{
		StateDrafting:          "Enter symbol, quantity and side",
		StatePriceConfirmation: "Review the live price and confirm",
		StateExecuting:         "Submitting order",
		StateSucceeded:         "Order executed",
		StateFailed:            "Order failed",
	}
	if desc, ok := descriptions[state]; ok {
		return desc
	}
	return "Unknown state"
}
