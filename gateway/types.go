package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecuteRequest 手动买卖请求体，字段名与投资服务保持一致。
type ExecuteRequest struct {
	UserID   uuid.UUID `json:"userId"`
	Symbol   string    `json:"symbol"`
	Quantity int64     `json:"quantity"`
}

// ExecutionReceipt 成交回执。服务端可能返回 JSON 记录，也可能只返回一句文本。
type ExecutionReceipt struct {
	Message string
	Raw     json.RawMessage
}

type startStrategyRequest struct {
	UserID   uuid.UUID   `json:"userId"`
	Strategy string      `json:"strategy"`
	Amount   json.Number `json:"amount"`
}

type sellPositionRequest struct {
	Quantity json.Number `json:"quantity"`
}

// PositionRecord 归一化后的持仓。
type PositionRecord struct {
	Symbol          string
	CurrentQuantity decimal.Decimal
	AveragePrice    decimal.Decimal
	CurrentPrice    decimal.Decimal
	CurrentValue    decimal.Decimal
}

// StrategySnapshot 归一化后的当前自动策略；Found=false 表示用户没有策略。
type StrategySnapshot struct {
	Found     bool
	Status    string
	Strategy  string
	Capital   decimal.Decimal
	StartDate time.Time
	Positions []PositionRecord
}

// InvestmentRecord 投资记录（手动或自动）。
type InvestmentRecord struct {
	ID              string
	Type            string
	Symbol          string
	Strategy        string
	Status          string
	Quantity        decimal.Decimal
	AveragePrice    decimal.Decimal
	CurrentPrice    decimal.Decimal
	CurrentValue    decimal.Decimal
	AllocatedAmount decimal.Decimal
	CreatedAt       time.Time
}

// StockQuote 搜索结果；Price 为零表示服务端没有报价。
type StockQuote struct {
	Symbol string
	Name   string
	Price  decimal.Decimal
}

// Transaction 成交流水。
type Transaction struct {
	ID          string
	Type        string
	Symbol      string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TotalAmount decimal.Decimal
	Timestamp   time.Time
}
