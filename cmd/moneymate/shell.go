package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"moneymate-trader/autotrade"
	"moneymate-trader/order"
)

const shellHelp = `Commands:
  buy SYMBOL QTY | sell SYMBOL QTY   draft an order and look up its price
  price                              retry the price lookup
  confirm                            execute the priced order
  retry                              retry a failed execution at the same price
  cancel                             discard the draft or priced order
  reset                              start a new order after a result
  order                              show the current order
  auto [status|refresh|start KIND AMOUNT|pause|resume|stop|sell SYMBOL|close|investments]
  search QUERY | history | portfolio [live]
  notices [on|off|clear] | dismiss ID
  help | quit`

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "shell",
		Short:       "Interactive session with live notices, metrics server and config hot reload",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConsole: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.c.Start(ctx(cmd)); err != nil {
				return err
			}
			return a.shell(cmd, cmd.InOrStdin())
		},
	}
}

// reportedError 已经作为提示展示过的错误，shell 不再重复输出。
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err}
}

func (a *app) shell(cmd *cobra.Command, in io.Reader) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "moneymate shell. Type 'help' for commands.")
	for {
		if ctx(cmd).Err() != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		quit, err := a.dispatch(cmd, fields)
		if err != nil {
			var rep reportedError
			if !errors.As(err, &rep) {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		if quit {
			return nil
		}
	}
}

func (a *app) dispatch(cmd *cobra.Command, fields []string) (quit bool, err error) {
	out := cmd.OutOrStdout()
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(out, shellHelp)
		return false, nil
	case "buy", "sell", "price", "confirm", "retry", "cancel", "reset", "order":
		return false, a.orderCommand(cmd, name, args)
	case "auto":
		return false, a.autoCommand(cmd, args)
	case "search":
		if len(args) == 0 {
			return false, errors.New("usage: search QUERY")
		}
		return false, newSearchCmd(a).RunE(cmd, args)
	case "history":
		return false, newHistoryCmd(a).RunE(cmd, nil)
	case "portfolio":
		return false, a.portfolio(cmd, len(args) > 0 && args[0] == "live")
	case "notices":
		return false, a.notices(cmd, args)
	case "dismiss":
		if len(args) != 1 {
			return false, errors.New("usage: dismiss ID")
		}
		return false, a.dismiss(args[0])
	}
	return false, fmt.Errorf("unknown command %q (try 'help')", name)
}

func (a *app) orderCommand(cmd *cobra.Command, name string, args []string) error {
	flow, err := a.c.Orders()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch name {
	case "buy", "sell":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s SYMBOL QTY", name)
		}
		err = flow.SubmitDraft(ctx(cmd), order.DraftInput{Side: name, Symbol: args[0], Quantity: args[1]})
		if err == nil {
			renderOrder(out, flow.Snapshot())
			fmt.Fprintln(out, "Type 'confirm' to execute or 'cancel' to discard.")
			return nil
		}
	case "price":
		err = flow.RetryPrice(ctx(cmd))
	case "confirm":
		_, err = flow.Confirm(ctx(cmd))
	case "retry":
		_, err = flow.Retry(ctx(cmd))
	case "cancel":
		err = flow.Cancel()
	case "reset":
		err = flow.Reset()
	}
	renderOrder(out, flow.Snapshot())
	return reported(err)
}

func (a *app) autoCommand(cmd *cobra.Command, args []string) error {
	ctrl, err := a.c.Strategy()
	if err != nil {
		return err
	}
	sub := "status"
	if len(args) > 0 {
		sub, args = strings.ToLower(args[0]), args[1:]
	}
	var action func(*autotrade.Controller) error
	switch sub {
	case "status":
	case "refresh":
		action = func(c *autotrade.Controller) error { return c.Refresh(ctx(cmd)) }
	case "start":
		if len(args) != 2 {
			return errors.New("usage: auto start KIND AMOUNT")
		}
		action = func(c *autotrade.Controller) error { return startStrategy(cmd, c, args[0], args[1]) }
	case "pause":
		action = func(c *autotrade.Controller) error { return c.Pause(ctx(cmd)) }
	case "resume":
		action = func(c *autotrade.Controller) error { return c.Resume(ctx(cmd)) }
	case "stop":
		action = func(c *autotrade.Controller) error { return c.Stop(ctx(cmd)) }
	case "close":
		action = func(c *autotrade.Controller) error { return c.Close(ctx(cmd)) }
	case "sell":
		if len(args) != 1 {
			return errors.New("usage: auto sell SYMBOL")
		}
		action = func(c *autotrade.Controller) error { return sellPosition(cmd, c, args[0]) }
	case "investments":
		records, err := ctrl.Investments(ctx(cmd))
		if err != nil {
			return reported(err)
		}
		renderInvestments(cmd.OutOrStdout(), records)
		return nil
	default:
		return fmt.Errorf("unknown auto command %q", sub)
	}
	err = a.autoRun(cmd, action)
	if errors.Is(err, errInvalidAmount) {
		return err
	}
	return reported(err)
}

// notices 列出提示，或切换终端输出、清空提示板。
func (a *app) notices(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		renderNotices(out, a.c.Board().Active())
		return nil
	}
	switch strings.ToLower(args[0]) {
	case "on":
		a.c.AttachConsole(cmd.ErrOrStderr())
	case "off":
		a.c.DetachConsole()
	case "clear":
		a.c.ClearNotices()
		fmt.Fprintln(out, "Notices cleared.")
		return nil
	default:
		return errors.New("usage: notices [on|off|clear]")
	}
	state := "off"
	if a.c.ConsoleAttached() {
		state = "on"
	}
	fmt.Fprintf(out, "Console notices %s.\n", state)
	return nil
}

// dismiss 按 ID 前缀关闭提示。
func (a *app) dismiss(prefix string) error {
	for _, n := range a.c.Board().Active() {
		if strings.HasPrefix(n.ID, prefix) {
			a.c.Board().Dismiss(n.ID)
			return nil
		}
	}
	return fmt.Errorf("no notice %q", prefix)
}
