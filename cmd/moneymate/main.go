// Command moneymate 是投资服务的命令行客户端：手动下单、自动策略管理与交互式 shell。
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"moneymate-trader/config"
	"moneymate-trader/internal/container"
)

const annotationConsole = "console"

// app 在子命令之间共享的运行时依赖。
type app struct {
	configPath string
	logLevel   string
	yes        bool

	c *container.Container
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd 构建命令树；容器在首个子命令运行前创建，由调用方负责 a.close。
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "moneymate",
		Short:        "Trade stocks and manage automated strategies against the investment service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var notices io.Writer
			// 单次命令的错误由 cobra 输出，只有 shell 需要把提示打到终端
			if cmd.Annotations[annotationConsole] == "true" {
				notices = cmd.ErrOrStderr()
			}
			return a.open(cmd.Flags().Changed("log-level"), notices)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config path (env MT_* and .env override it)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level for this run")

	root.AddCommand(
		newPriceCmd(a),
		newTradeCmd(a),
		newAutoCmd(a),
		newSearchCmd(a),
		newHistoryCmd(a),
		newPortfolioCmd(a),
		newShellCmd(a),
	)
	return root
}

// open 加载配置并构建容器；未显式配置日志级别时 CLI 默认只输出 warn 以上。
func (a *app) open(levelChanged bool, notices io.Writer) error {
	cfg, err := config.LoadWithEnvOverrides(a.configPath)
	if err != nil {
		return err
	}
	if levelChanged || (a.configPath == "" && os.Getenv("MT_LOG_LEVEL") == "") {
		cfg.Log.Level = a.logLevel
	}
	a.c = container.NewWithConfig(cfg, a.configPath, container.Options{Console: notices})
	if err := a.c.Build(); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

func (a *app) close() error {
	if a.c == nil {
		return nil
	}
	err := a.c.Stop()
	a.c = nil
	return err
}

// ctx 命令上下文；直接调用（测试）时回退到 Background。
func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}
