package inventory

import "github.com/shopspring/decimal"

// Line 单行估值。
type Line struct {
	Holding
	CostBasis     decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Priced        bool
}

// Summary 持仓组合估值；没有现价的标的按成本计入市值，并不计盈亏。
type Summary struct {
	Lines         []Line
	CostBasis     decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Unpriced      []string
}

// ReturnPct 未实现收益率（百分比，两位小数）；成本为零时返回零。
func (s Summary) ReturnPct() decimal.Decimal {
	if s.CostBasis.IsZero() {
		return decimal.Zero
	}
	return s.UnrealizedPnL.Div(s.CostBasis).Mul(decimal.NewFromInt(100)).Round(2)
}

// Value 对一组持仓估值。
func Value(holdings []Holding) Summary {
	var s Summary
	for _, h := range holdings {
		line := Line{Holding: h, CostBasis: h.AveragePrice.Mul(h.Quantity)}
		if h.CurrentPrice.IsPositive() {
			line.Priced = true
			line.MarketValue = h.CurrentPrice.Mul(h.Quantity)
			line.UnrealizedPnL = line.MarketValue.Sub(line.CostBasis)
		} else {
			line.MarketValue = line.CostBasis
			s.Unpriced = append(s.Unpriced, h.Symbol)
		}
		s.CostBasis = s.CostBasis.Add(line.CostBasis)
		s.MarketValue = s.MarketValue.Add(line.MarketValue)
		s.UnrealizedPnL = s.UnrealizedPnL.Add(line.UnrealizedPnL)
		s.Lines = append(s.Lines, line)
	}
	return s
}

// Valuation 当前 Tracker 的估值。
func (t *Tracker) Valuation() Summary {
	return Value(t.Holdings())
}
