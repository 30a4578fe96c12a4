package autotrade

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind 策略风险档位
type Kind string

const (
	KindConservative Kind = "conservative"
	KindModerate     Kind = "moderate"
	KindAggressive   Kind = "aggressive"
)

// Kinds 已知策略，按风险从低到高。
var Kinds = []Kind{KindConservative, KindModerate, KindAggressive}

// ParseKind accepts a strategy name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("unknown strategy %q (want conservative, moderate or aggressive)", s)
}

func (k Kind) Valid() bool {
	switch k {
	case KindConservative, KindModerate, KindAggressive:
		return true
	}
	return false
}

// Status 自动策略状态
type Status string

const (
	StatusNone    Status = "NONE"
	StatusActive  Status = "ACTIVE"
	StatusPaused  Status = "PAUSED"
	StatusStopped Status = "STOPPED"
	StatusClosed  Status = "CLOSED"
)

// ParseStatus 解析服务端状态，空串视为没有策略。
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case "":
		return StatusNone, nil
	case StatusNone, StatusActive, StatusPaused, StatusStopped, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown strategy status %q", s)
}

// Running 表示存在未关闭的策略（Active/Paused/Stopped），此时不能再 start。
func (s Status) Running() bool {
	return s == StatusActive || s == StatusPaused || s == StatusStopped
}

// Position 策略持仓
type Position struct {
	Symbol          string
	CurrentQuantity decimal.Decimal
	AveragePrice    decimal.Decimal
	CurrentPrice    decimal.Decimal
	CurrentValue    decimal.Decimal
}

// Allocation 用户当前的自动策略；每个用户最多一个未关闭的 Allocation。
type Allocation struct {
	UserID    uuid.UUID
	Kind      Kind
	Capital   decimal.Decimal
	Status    Status
	StartDate time.Time
	Positions []Position
}

// Position 按代码查找持仓。
func (a Allocation) Position(symbol string) (Position, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// PositionsValue 持仓总市值
func (a Allocation) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Positions {
		total = total.Add(p.CurrentValue)
	}
	return total
}

func (a Allocation) clone() Allocation {
	cp := a
	if a.Positions != nil {
		cp.Positions = make([]Position, len(a.Positions))
		copy(cp.Positions, a.Positions)
	}
	return cp
}
