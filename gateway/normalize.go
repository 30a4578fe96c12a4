package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 投资服务的响应字段时而 snake_case 时而 camelCase，统一在这里归一化。
// 缺省策略：字段缺失或为 null 取零值；字段存在但无法解析返回错误。
// currentPrice 缺失时取 averagePrice；currentValue 缺失时取 quantity × currentPrice。

type object map[string]json.RawMessage

func (o object) pick(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := o[k]; ok && !isNull(raw) {
			return raw, true
		}
	}
	return nil, false
}

func (o object) str(keys ...string) (string, error) {
	raw, ok := o.pick(keys...)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	// 数字/布尔类 id 也按字符串处理
	return strings.Trim(string(raw), `"`), nil
}

func (o object) dec(keys ...string) (decimal.Decimal, bool, error) {
	raw, ok := o.pick(keys...)
	if !ok {
		return decimal.Zero, false, nil
	}
	d, err := parseDecimal(raw)
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("field %s: %w", keys[0], err)
	}
	return d, true, nil
}

func (o object) time(keys ...string) (time.Time, error) {
	raw, ok := o.pick(keys...)
	if !ok {
		return time.Time{}, nil
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", keys[0], err)
	}
	return t, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// parseDecimal 接受 JSON 数字或数字字符串。
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty number")
	}
	return decimal.NewFromString(s)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime 接受 ISO 字符串或 epoch 秒/毫秒（Java Instant 默认序列化为带小数的秒）。
func parseTime(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return time.Time{}, err
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}

func decodeObject(raw []byte) (object, error) {
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return o, nil
}

// NormalizePosition 将一条持仓/投资记录映射为 PositionRecord。
func NormalizePosition(o object) (PositionRecord, error) {
	var p PositionRecord
	var err error
	if p.Symbol, err = o.str("symbol", "ticker"); err != nil {
		return p, err
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.CurrentQuantity, _, err = o.dec("currentQuantity", "current_quantity", "quantity"); err != nil {
		return p, err
	}
	if p.AveragePrice, _, err = o.dec("averagePrice", "average_price", "purchasePrice", "purchase_price"); err != nil {
		return p, err
	}
	var ok bool
	if p.CurrentPrice, ok, err = o.dec("currentPrice", "current_price"); err != nil {
		return p, err
	}
	if !ok {
		p.CurrentPrice = p.AveragePrice
	}
	if p.CurrentValue, ok, err = o.dec("currentValue", "current_value"); err != nil {
		return p, err
	}
	if !ok {
		p.CurrentValue = p.CurrentQuantity.Mul(p.CurrentPrice)
	}
	return p, nil
}

// NormalizeInvestment 映射投资记录。
func NormalizeInvestment(o object) (InvestmentRecord, error) {
	var r InvestmentRecord
	var err error
	if r.ID, err = o.str("investmentId", "investment_id", "id"); err != nil {
		return r, err
	}
	if r.Type, err = o.str("type"); err != nil {
		return r, err
	}
	if r.Strategy, err = o.str("strategy"); err != nil {
		return r, err
	}
	if r.Status, err = o.str("status"); err != nil {
		return r, err
	}
	r.Status = strings.ToLower(r.Status)
	pos, err := NormalizePosition(o)
	if err != nil {
		return r, err
	}
	r.Symbol = pos.Symbol
	r.Quantity = pos.CurrentQuantity
	r.AveragePrice = pos.AveragePrice
	r.CurrentPrice = pos.CurrentPrice
	r.CurrentValue = pos.CurrentValue
	if r.AllocatedAmount, _, err = o.dec("allocatedAmount", "allocated_amount", "allocatedCapital", "allocated_capital"); err != nil {
		return r, err
	}
	if r.CreatedAt, err = o.time("createdAt", "created_at"); err != nil {
		return r, err
	}
	return r, nil
}

func normalizePositions(raws []json.RawMessage) ([]PositionRecord, error) {
	out := make([]PositionRecord, 0, len(raws))
	for _, raw := range raws {
		o, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		p, err := NormalizePosition(o)
		if err != nil {
			return nil, err
		}
		if p.Symbol == "" {
			return nil, fmt.Errorf("position without symbol")
		}
		out = append(out, p)
	}
	return out, nil
}

// NormalizeStrategy 解析 current 接口。支持两种形态：
// 聚合对象 {status, capital, startDate, strategy, positions[]}，
// 或按股票拆分的投资记录数组（服务端的原始存储形态）。
func NormalizeStrategy(raw []byte) (StrategySnapshot, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return StrategySnapshot{}, nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return StrategySnapshot{}, err
		}
		return aggregateInvestments(items)
	}
	o, err := decodeObject(raw)
	if err != nil {
		return StrategySnapshot{}, err
	}
	var snap StrategySnapshot
	if snap.Status, err = o.str("status"); err != nil {
		return snap, err
	}
	snap.Status = strings.ToLower(snap.Status)
	if snap.Strategy, err = o.str("strategy", "strategyKind", "strategy_kind"); err != nil {
		return snap, err
	}
	snap.Strategy = strings.ToLower(snap.Strategy)
	if snap.Capital, _, err = o.dec("capital", "allocatedAmount", "allocated_amount", "amount"); err != nil {
		return snap, err
	}
	if snap.StartDate, err = o.time("startDate", "start_date", "createdAt", "created_at"); err != nil {
		return snap, err
	}
	if posRaw, ok := o.pick("positions"); ok {
		var items []json.RawMessage
		if err := json.Unmarshal(posRaw, &items); err != nil {
			return snap, fmt.Errorf("positions: %w", err)
		}
		if snap.Positions, err = normalizePositions(items); err != nil {
			return snap, err
		}
	}
	snap.Found = snap.Status != "" && snap.Status != "none"
	return snap, nil
}

var statusRank = map[string]int{"active": 4, "paused": 3, "stopped": 2, "closed": 1}

func aggregateInvestments(items []json.RawMessage) (StrategySnapshot, error) {
	var snap StrategySnapshot
	for _, item := range items {
		o, err := decodeObject(item)
		if err != nil {
			return snap, err
		}
		inv, err := NormalizeInvestment(o)
		if err != nil {
			return snap, err
		}
		if inv.Type != "" && strings.ToLower(inv.Type) != "auto" {
			continue
		}
		if statusRank[inv.Status] > statusRank[snap.Status] {
			snap.Status = inv.Status
		}
		if snap.Strategy == "" {
			snap.Strategy = strings.ToLower(inv.Strategy)
		}
		if !inv.CreatedAt.IsZero() && (snap.StartDate.IsZero() || inv.CreatedAt.Before(snap.StartDate)) {
			snap.StartDate = inv.CreatedAt
		}
		if inv.Status != "closed" {
			snap.Capital = snap.Capital.Add(inv.AllocatedAmount)
		}
		if inv.Quantity.IsPositive() {
			snap.Positions = append(snap.Positions, PositionRecord{
				Symbol:          inv.Symbol,
				CurrentQuantity: inv.Quantity,
				AveragePrice:    inv.AveragePrice,
				CurrentPrice:    inv.CurrentPrice,
				CurrentValue:    inv.CurrentValue,
			})
		}
	}
	snap.Found = snap.Status != ""
	return snap, nil
}

// NormalizeStartResponse 解析 start 接口：{positions[]}、单条投资记录或记录数组。
func NormalizeStartResponse(raw []byte) ([]PositionRecord, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return normalizePositions(items)
	}
	o, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if posRaw, ok := o.pick("positions"); ok {
		var items []json.RawMessage
		if err := json.Unmarshal(posRaw, &items); err != nil {
			return nil, fmt.Errorf("positions: %w", err)
		}
		return normalizePositions(items)
	}
	if _, ok := o.pick("symbol"); ok {
		p, err := NormalizePosition(o)
		if err != nil {
			return nil, err
		}
		return []PositionRecord{p}, nil
	}
	return nil, nil
}

// NormalizePrice 解析价格接口：纯数字、数字字符串或 {"price": n}。
func NormalizePrice(raw []byte) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		o, err := decodeObject(raw)
		if err != nil {
			return decimal.Zero, err
		}
		d, ok, err := o.dec("price", "currentPrice", "current_price")
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			return decimal.Zero, fmt.Errorf("price missing")
		}
		return d, nil
	}
	return parseDecimal(raw)
}
