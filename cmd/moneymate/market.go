package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"moneymate-trader/gateway"
	"moneymate-trader/inventory"
)

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search stocks by symbol or name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quotes, err := a.c.Client().SearchStocks(ctx(cmd), strings.Join(args, " "))
			if err != nil {
				return err
			}
			renderQuotes(cmd.OutOrStdout(), quotes)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var replay bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the user's executed transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.c.User()
			if err != nil {
				return err
			}
			txs, err := a.c.Client().Transactions(ctx(cmd), user.UserID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderTransactions(out, txs)
			if replay {
				s := inventory.Sync{}
				if skipped := s.Replay(fillsFrom(txs)); skipped > 0 {
					fmt.Fprintf(out, "(%d non-trade records skipped)\n", skipped)
				}
				fmt.Fprintln(out, "Positions rebuilt from history:")
				renderValuation(out, s.Tracker.Valuation())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&replay, "positions", false, "also rebuild positions and cost basis from the history")
	return cmd
}

func fillsFrom(txs []gateway.Transaction) []inventory.Fill {
	fills := make([]inventory.Fill, 0, len(txs))
	for _, t := range txs {
		fills = append(fills, inventory.Fill{
			Symbol:    t.Symbol,
			Side:      t.Type,
			Quantity:  t.Quantity,
			Price:     t.Price,
			Timestamp: t.Timestamp,
		})
	}
	return fills
}

func newPortfolioCmd(a *app) *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show manual holdings with their value and unrealized P/L",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.portfolio(cmd, live)
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "look up a live price for every holding")
	return cmd
}

func (a *app) portfolio(cmd *cobra.Command, live bool) error {
	user, err := a.c.User()
	if err != nil {
		return err
	}
	records, err := a.c.Client().Investments(ctx(cmd), user.UserID)
	if err != nil {
		return err
	}
	tr := inventory.NewTracker()
	for _, r := range records {
		tr.Set(holdingFrom(r))
	}
	out := cmd.OutOrStdout()
	if live {
		for _, h := range tr.Holdings() {
			price, err := a.c.Client().Price(ctx(cmd), h.Symbol)
			if err != nil {
				fmt.Fprintf(out, "price %s: %v\n", h.Symbol, err)
				continue
			}
			tr.Mark(h.Symbol, price)
		}
	}
	holdings := tr.Holdings()
	if len(holdings) == 0 {
		fmt.Fprintln(out, "No holdings.")
		return nil
	}
	renderValuation(out, tr.Valuation())
	return nil
}

// holdingFrom 服务端未给出现价时用 currentValue / quantity 推算。
func holdingFrom(r gateway.InvestmentRecord) inventory.Holding {
	h := inventory.Holding{
		Symbol:       r.Symbol,
		Quantity:     r.Quantity,
		AveragePrice: r.AveragePrice,
		CurrentPrice: r.CurrentPrice,
	}
	if !h.CurrentPrice.IsPositive() && r.CurrentValue.IsPositive() && r.Quantity.IsPositive() {
		h.CurrentPrice = r.CurrentValue.Div(r.Quantity).Round(4)
	}
	if h.AveragePrice.IsZero() && r.AllocatedAmount.IsPositive() && r.Quantity.IsPositive() {
		h.AveragePrice = r.AllocatedAmount.Div(r.Quantity).Round(4)
	}
	return h
}
