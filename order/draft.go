package order

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"moneymate-trader/gateway"
	"moneymate-trader/tradeerr"
)

const maxSymbolLen = 15

// DraftInput 用户原始输入，尚未校验。
type DraftInput struct {
	Symbol   string
	Quantity string
	Side     string
}

// Draft 校验后的草稿。
type Draft struct {
	Symbol   string
	Quantity int64
	Side     Side
}

// ParseDraft 校验输入：symbol 去空格后非空并转大写，quantity 为 >=1 的整数。
func ParseDraft(in DraftInput) (Draft, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return Draft{}, tradeerr.Validation("submit", "symbol is required")
	}
	if len(symbol) > maxSymbolLen || strings.IndexFunc(symbol, unicode.IsSpace) >= 0 {
		return Draft{}, tradeerr.Validation("submit", "symbol "+strconv.Quote(symbol)+" is not a ticker")
	}
	qty, err := ParseQuantity(in.Quantity)
	if err != nil {
		return Draft{}, err
	}
	side, err := ParseSide(in.Side)
	if err != nil {
		return Draft{}, tradeerr.Validation("submit", err.Error())
	}
	return Draft{Symbol: symbol, Quantity: qty, Side: side}, nil
}

// ParseQuantity 只接受十进制整数且 >= 1，"1.5"、"0"、"-3"、"1e2" 都会被拒绝。
func ParseQuantity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	qty, err := strconv.ParseInt(s, 10, 64)
	if err != nil || qty < 1 {
		return 0, tradeerr.Validation("submit", "quantity must be a whole number of at least 1")
	}
	return qty, nil
}

// PricedOrder 已询价订单，创建后不可变；确认执行时不再重新询价。
type PricedOrder struct {
	Draft
	UnitPrice      decimal.Decimal
	TotalAmount    decimal.Decimal
	IdempotencyKey string
	PricedAt       time.Time
}

func newPricedOrder(d Draft, price decimal.Decimal, key string, at time.Time) PricedOrder {
	return PricedOrder{
		Draft:          d,
		UnitPrice:      price,
		TotalAmount:    price.Mul(decimal.NewFromInt(d.Quantity)),
		IdempotencyKey: key,
		PricedAt:       at,
	}
}

// ExecutionStatus 成交结果
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailure ExecutionStatus = "FAILURE"
)

// ExecutionResult 执行结果；网络错误与业务拒绝同样记为 Failure。
type ExecutionResult struct {
	Status      ExecutionStatus
	ErrorDetail string
	Receipt     gateway.ExecutionReceipt
	CompletedAt time.Time
}

func (r ExecutionResult) Succeeded() bool { return r.Status == ExecutionSuccess }
