package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fill 一笔历史成交，用于回放出持仓。
type Fill struct {
	Symbol    string
	Side      string // BUY / SELL
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// Sync 从成交流水重建 Tracker。
type Sync struct {
	Tracker *Tracker
}

// Replay 按时间顺序回放成交；未知方向的记录被跳过并计数返回。
func (s *Sync) Replay(fills []Fill) (skipped int) {
	if s.Tracker == nil {
		s.Tracker = NewTracker()
	}
	ordered := make([]Fill, len(fills))
	copy(ordered, fills)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })
	for _, f := range ordered {
		qty := f.Quantity.Abs()
		switch strings.ToUpper(strings.TrimSpace(f.Side)) {
		case "BUY":
			s.Tracker.Update(f.Symbol, qty, f.Price)
		case "SELL":
			s.Tracker.Update(f.Symbol, qty.Neg(), f.Price)
		default:
			skipped++
		}
	}
	return skipped
}

// Snapshot 用最新价格标记后返回估值。
func (s *Sync) Snapshot(prices map[string]decimal.Decimal) Summary {
	if s.Tracker == nil {
		return Summary{}
	}
	for sym, p := range prices {
		s.Tracker.Mark(sym, p)
	}
	return s.Tracker.Valuation()
}
