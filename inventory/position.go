package inventory

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Holding 单个标的的持仓。
type Holding struct {
	Symbol       string
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	CurrentPrice decimal.Decimal // 零值表示没有现价
}

// Tracker 按标的维护持仓数量与加权平均成本。
type Tracker struct {
	mu       sync.RWMutex
	holdings map[string]*Holding
}

func NewTracker() *Tracker {
	return &Tracker{holdings: make(map[string]*Holding)}
}

// Update 根据成交数量调整仓位；卖出不改变平均成本，清仓后移除。
func (t *Tracker) Update(symbol string, deltaQty, price decimal.Decimal) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || deltaQty.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holdings == nil {
		t.holdings = make(map[string]*Holding)
	}
	h, ok := t.holdings[symbol]
	if !ok {
		h = &Holding{Symbol: symbol}
		t.holdings[symbol] = h
	}
	next := h.Quantity.Add(deltaQty)
	switch {
	case !next.IsPositive():
		delete(t.holdings, symbol)
		return
	case deltaQty.IsPositive():
		total := h.AveragePrice.Mul(h.Quantity).Add(price.Mul(deltaQty))
		h.AveragePrice = total.Div(next)
	}
	h.Quantity = next
}

// Mark 更新现价。
func (t *Tracker) Mark(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.holdings[strings.ToUpper(symbol)]; ok {
		h.CurrentPrice = price
	}
}

// Set 直接覆盖某个标的（来自服务端的持仓快照）。
func (t *Tracker) Set(h Holding) {
	h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
	if h.Symbol == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holdings == nil {
		t.holdings = make(map[string]*Holding)
	}
	if !h.Quantity.IsPositive() {
		delete(t.holdings, h.Symbol)
		return
	}
	t.holdings[h.Symbol] = &h
}

func (t *Tracker) NetExposure(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, ok := t.holdings[strings.ToUpper(symbol)]; ok {
		return h.Quantity
	}
	return decimal.Zero
}

func (t *Tracker) AvgCost(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, ok := t.holdings[strings.ToUpper(symbol)]; ok {
		return h.AveragePrice
	}
	return decimal.Zero
}

// Holdings 按标的排序的持仓副本。
func (t *Tracker) Holdings() []Holding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Holding, 0, len(t.holdings))
	for _, h := range t.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
