package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"moneymate-trader/autotrade"
)

func newAutoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Manage the automated investment strategy",
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current strategy and its positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.autoRun(cmd, nil)
		},
	}
	start := &cobra.Command{
		Use:   "start KIND AMOUNT",
		Short: "Start a conservative, moderate or aggressive strategy with AMOUNT capital",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.autoRun(cmd, func(ctrl *autotrade.Controller) error {
				return startStrategy(cmd, ctrl, args[0], args[1])
			})
		},
	}
	sell := &cobra.Command{
		Use:   "sell SYMBOL",
		Short: "Sell the whole position in SYMBOL (paused or stopped strategies only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.autoRun(cmd, func(ctrl *autotrade.Controller) error {
				return sellPosition(cmd, ctrl, args[0])
			})
		},
	}
	investments := &cobra.Command{
		Use:   "investments",
		Short: "List the investment records owned by the strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, err := a.c.Strategy()
			if err != nil {
				return err
			}
			records, err := ctrl.Investments(ctx(cmd))
			if err != nil {
				return err
			}
			renderInvestments(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.AddCommand(status, start, sell, investments,
		simpleAutoCmd(a, "pause", "Pause an active strategy", (*autotrade.Controller).Pause),
		simpleAutoCmd(a, "resume", "Resume a paused strategy", (*autotrade.Controller).Resume),
		simpleAutoCmd(a, "stop", "Stop trading; positions are kept until sold", (*autotrade.Controller).Stop),
		simpleAutoCmd(a, "close", "Close a stopped strategy once every position is sold", (*autotrade.Controller).Close),
	)
	return cmd
}

type controllerAction func(*autotrade.Controller, context.Context) error

func simpleAutoCmd(a *app, use, short string, action controllerAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.autoRun(cmd, func(ctrl *autotrade.Controller) error {
				return action(ctrl, ctx(cmd))
			})
		},
	}
}

// autoRun 先从服务端加载当前策略，再执行动作并渲染结果；动作失败时仍展示原状态。
func (a *app) autoRun(cmd *cobra.Command, action func(*autotrade.Controller) error) error {
	ctrl, err := a.c.Strategy()
	if err != nil {
		return err
	}
	if !ctrl.Snapshot().Loaded {
		if err := ctrl.Refresh(ctx(cmd)); err != nil {
			return err
		}
	}
	var actionErr error
	if action != nil {
		actionErr = action(ctrl)
	}
	renderAllocation(cmd.OutOrStdout(), ctrl.Snapshot())
	return actionErr
}

var errInvalidAmount = errors.New("invalid amount")

func startStrategy(cmd *cobra.Command, ctrl *autotrade.Controller, kindArg, amountArg string) error {
	kind, err := autotrade.ParseKind(kindArg)
	if err != nil {
		// 交给 Start 统一校验并发出提示
		kind = autotrade.Kind(kindArg)
	}
	amount, err := decimal.NewFromString(amountArg)
	if err != nil {
		return fmt.Errorf("%w %q", errInvalidAmount, amountArg)
	}
	return ctrl.Start(ctx(cmd), kind, amount)
}

func sellPosition(cmd *cobra.Command, ctrl *autotrade.Controller, symbol string) error {
	res, err := ctrl.SellPosition(ctx(cmd), symbol)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sold %s %s.\n", res.Quantity.String(), res.Symbol)
	switch {
	case res.ClosedByService:
		fmt.Fprintln(out, "Last position sold; the service closed the strategy.")
	case res.AutoClosed:
		fmt.Fprintln(out, "Last position sold; strategy closed.")
	case res.CloseErr != nil:
		fmt.Fprintf(out, "Last position sold but closing failed: %v\n", res.CloseErr)
	}
	return nil
}
