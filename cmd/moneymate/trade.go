package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"moneymate-trader/order"
)

func newPriceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "price SYMBOL",
		Short: "Show the live unit price of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			price, err := a.c.Client().Price(ctx(cmd), symbol)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", symbol, money(price))
			return nil
		},
	}
}

func newTradeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade buy|sell SYMBOL QUANTITY",
		Short: "Price an order, confirm it and execute it",
		Long: "Looks up the live price, shows the total and asks for confirmation before executing.\n" +
			"The confirmed price is the one executed; a failed execution can be retried with the same price.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			return a.trade(cmd, in, order.DraftInput{Side: args[0], Symbol: args[1], Quantity: args[2]})
		},
	}
	cmd.Flags().BoolVarP(&a.yes, "yes", "y", false, "confirm without prompting (failed executions are not retried)")
	return cmd
}

// trade 走完一次手动下单：草稿 → 询价 → 确认 → 执行（失败时可按提示重试）。
func (a *app) trade(cmd *cobra.Command, in *bufio.Reader, draft order.DraftInput) error {
	out := cmd.OutOrStdout()
	flow, err := a.c.Orders()
	if err != nil {
		return err
	}
	if snap := flow.Snapshot(); snap.State != order.StateDrafting {
		// 上一次的结果先复位
		if err := resetOrder(flow); err != nil {
			return err
		}
	}
	if err := flow.SubmitDraft(ctx(cmd), draft); err != nil {
		return err
	}
	renderOrder(out, flow.Snapshot())

	if !a.yes && !ask(in, out, "Confirm? [y/N] ") {
		if err := flow.Cancel(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Canceled.")
		return nil
	}

	_, err = flow.Confirm(ctx(cmd))
	for err != nil && flow.Snapshot().State == order.StateFailed && !a.yes {
		fmt.Fprintf(out, "Execution failed: %v\n", err)
		if !ask(in, out, "Retry at the same price? [y/N] ") {
			break
		}
		_, err = flow.Retry(ctx(cmd))
	}
	renderOrder(out, flow.Snapshot())
	return err
}

func resetOrder(flow *order.ManualOrderFlow) error {
	switch flow.Snapshot().State {
	case order.StateSucceeded, order.StateFailed:
		return flow.Reset()
	default:
		return flow.Cancel()
	}
}

// ask 读取一行 y/yes；EOF 视为否。
func ask(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
