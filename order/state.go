package order

import (
	"fmt"
	"strings"
)

// FlowState 手动下单流程状态。
type FlowState string

const (
	StateDrafting          FlowState = "DRAFTING"
	StatePriceConfirmation FlowState = "PRICE_CONFIRMATION"
	StateExecuting         FlowState = "EXECUTING"
	StateSucceeded         FlowState = "SUCCEEDED"
	StateFailed            FlowState = "FAILED"
)

// Side represents trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("side must be buy or sell, got %q", s)
}

// Path 对应投资服务的 /buy 或 /sell。
func (s Side) Path() string {
	return strings.ToLower(string(s))
}
