package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"moneymate-trader/autotrade"
	"moneymate-trader/gateway"
	"moneymate-trader/infrastructure/alert"
	"moneymate-trader/inventory"
	"moneymate-trader/order"
)

func money(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func renderOrder(w io.Writer, s order.Snapshot) {
	fmt.Fprintf(w, "Order: %s\n", s.Description)
	if s.Draft != nil {
		fmt.Fprintf(w, "  %s %d %s\n", s.Draft.Side, s.Draft.Quantity, s.Draft.Symbol)
	}
	if p := s.Priced; p != nil {
		fmt.Fprintf(w, "  unit price %s  total %s  (priced %s)\n",
			money(p.UnitPrice), money(p.TotalAmount), p.PricedAt.Format(time.Kitchen))
	}
	if r := s.Result; r != nil {
		switch {
		case r.Succeeded() && r.Receipt.Message != "":
			fmt.Fprintf(w, "  result: %s (%s)\n", r.Status, r.Receipt.Message)
		case r.Succeeded():
			fmt.Fprintf(w, "  result: %s\n", r.Status)
		default:
			fmt.Fprintf(w, "  result: %s: %s\n", r.Status, r.ErrorDetail)
		}
	}
	if s.InFlight {
		fmt.Fprintln(w, "  (request in flight)")
	}
}

func renderAllocation(w io.Writer, s autotrade.Snapshot) {
	if s.Status == autotrade.StatusNone {
		fmt.Fprintln(w, "No automated strategy. Start one with: auto start <conservative|moderate|aggressive> <amount>")
		return
	}
	fmt.Fprintf(w, "Strategy: %s  status: %s  capital: %s", s.Kind, s.Status, money(s.Capital))
	if !s.StartDate.IsZero() {
		fmt.Fprintf(w, "  since %s", s.StartDate.Format("2006-01-02"))
	}
	fmt.Fprintln(w)
	if len(s.Positions) == 0 {
		fmt.Fprintln(w, "  no open positions")
	} else {
		holdings := make([]inventory.Holding, 0, len(s.Positions))
		for _, p := range s.Positions {
			holdings = append(holdings, inventory.Holding{
				Symbol:       p.Symbol,
				Quantity:     p.CurrentQuantity,
				AveragePrice: p.AveragePrice,
				CurrentPrice: p.CurrentPrice,
			})
		}
		renderValuation(w, inventory.Value(holdings))
	}
	if s.RefreshError != nil {
		fmt.Fprintf(w, "  (display may be stale: %v)\n", s.RefreshError)
	}
	if hint := nextActions(s.Allocation); hint != "" {
		fmt.Fprintf(w, "  available: %s\n", hint)
	}
}

func nextActions(a autotrade.Allocation) string {
	sm := autotrade.NewStateMachine()
	var out []string
	for _, to := range sm.AllowedTransitions(a.Status) {
		switch to {
		case autotrade.StatusActive:
			if a.Status == autotrade.StatusPaused {
				out = append(out, "resume")
			} else {
				out = append(out, "start")
			}
		case autotrade.StatusPaused:
			out = append(out, "pause")
		case autotrade.StatusStopped:
			out = append(out, "stop")
		case autotrade.StatusClosed:
			out = append(out, "close")
		}
	}
	if sm.CanSell(a.Status) && len(a.Positions) > 0 {
		out = append(out, "sell <symbol>")
	}
	return strings.Join(out, ", ")
}

func renderValuation(w io.Writer, s inventory.Summary) {
	tw := newTable(w)
	fmt.Fprintln(tw, "  SYMBOL\tQTY\tAVG\tPRICE\tVALUE\tP/L")
	for _, l := range s.Lines {
		price, pnl := "-", "-"
		if l.Priced {
			price, pnl = money(l.CurrentPrice), money(l.UnrealizedPnL)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			l.Symbol, l.Quantity.String(), money(l.AveragePrice), price, money(l.MarketValue), pnl)
	}
	fmt.Fprintf(tw, "  TOTAL\t\t\t\t%s\t%s (%s%%)\n", money(s.MarketValue), money(s.UnrealizedPnL), s.ReturnPct().StringFixed(2))
	_ = tw.Flush()
	if len(s.Unpriced) > 0 {
		fmt.Fprintf(w, "  no current price for %s; valued at cost\n", strings.Join(s.Unpriced, ", "))
	}
}

func renderInvestments(w io.Writer, records []gateway.InvestmentRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No investments.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tTYPE\tSTATUS\tQTY\tAVG\tVALUE\tCREATED")
	for _, r := range records {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Symbol, r.Type, r.Status, r.Quantity.String(), money(r.AveragePrice), money(r.CurrentValue), created)
	}
	_ = tw.Flush()
}

func renderQuotes(w io.Writer, quotes []gateway.StockQuote) {
	if len(quotes) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tPRICE")
	for _, q := range quotes {
		price := "-"
		if q.Price.IsPositive() {
			price = money(q.Price)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", q.Symbol, q.Name, price)
	}
	_ = tw.Flush()
}

func renderTransactions(w io.Writer, txs []gateway.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(w, "No transactions.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tTYPE\tSYMBOL\tQTY\tPRICE\tTOTAL")
	for _, t := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Timestamp.Format("2006-01-02 15:04"), t.Type, t.Symbol, t.Quantity.String(), money(t.Price), money(t.TotalAmount))
	}
	_ = tw.Flush()
}

func renderNotices(w io.Writer, notices []alert.Notice) {
	if len(notices) == 0 {
		fmt.Fprintln(w, "No notices.")
		return
	}
	for _, n := range notices {
		fmt.Fprintf(w, "%s  [%s] %s: %s\n", shortID(n.ID), strings.ToUpper(string(n.Level)), n.Action, n.Message)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
