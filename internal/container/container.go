package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"moneymate-trader/autotrade"
	"moneymate-trader/config"
	"moneymate-trader/gateway"
	"moneymate-trader/infrastructure/alert"
	"moneymate-trader/infrastructure/logger"
	"moneymate-trader/metrics"
	"moneymate-trader/order"
	"moneymate-trader/session"
)

const consoleChannel = "console"

// ErrNoUser 需要用户身份的流程在未配置 user.id 时返回。
var ErrNoUser = errors.New("user not configured: set user.id or MT_USER_ID")

// Options 构建时可注入的依赖，零值可用。
type Options struct {
	// Console 非空时把提示同步输出到终端。
	Console io.Writer
	// Logger 非空时替代按配置创建的日志器（测试用）。
	Logger *logger.Logger
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	mu         sync.RWMutex
	cfg        config.AppConfig
	configPath string
	opts       Options

	// 基础设施
	logger *logger.Logger
	alerts *alert.Manager
	board  *alert.Board

	// 投资服务网关
	client *gateway.InvestmentClient

	// 用户流程；未配置用户时为空
	user     session.UserContext
	orders   *order.ManualOrderFlow
	strategy *autotrade.Controller

	watcher       *config.Watcher
	metricsServer *http.Server

	lifecycle *LifecycleManager
}

// New 读取配置（含环境变量覆盖）创建容器；configPath 为空时使用默认配置且不监听文件。
func New(configPath string, opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath, opts), nil
}

// NewWithConfig 使用已加载的配置创建容器。
func NewWithConfig(cfg config.AppConfig, configPath string, opts Options) *Container {
	return &Container{
		cfg:        cfg,
		configPath: configPath,
		opts:       opts,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	c.buildGateway()
	if err := c.buildFlows(); err != nil {
		return fmt.Errorf("build flows failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Debug("container built")
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.opts.Logger != nil {
		c.logger = c.opts.Logger
	} else {
		l, err := logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
		c.logger = l
	}

	c.board = alert.NewBoard("board", c.cfg.Notices.BoardLimit)
	c.alerts = alert.NewManager([]alert.Channel{c.board, alert.NewLogChannel("log", c.logger)}, c.cfg.Notices.Throttle())
	if c.opts.Console != nil {
		c.AttachConsole(c.opts.Console)
	}
	return nil
}

// AttachConsole 把提示同步输出到 w；重复调用替换已有的终端通道。
func (c *Container) AttachConsole(w io.Writer) {
	c.alerts.RemoveChannel(consoleChannel)
	c.alerts.AddChannel(alert.NewConsoleChannel(consoleChannel, w))
}

// DetachConsole 停止终端输出，提示板与日志不受影响。
func (c *Container) DetachConsole() {
	c.alerts.RemoveChannel(consoleChannel)
}

// ConsoleAttached 终端通道是否在用。
func (c *Container) ConsoleAttached() bool {
	for _, name := range c.alerts.GetChannels() {
		if name == consoleChannel {
			return true
		}
	}
	return false
}

// ClearNotices 清空提示板并重置限流，之后同样的失败会再次提示。
func (c *Container) ClearNotices() {
	c.board.Clear()
	c.alerts.ResetThrottle()
}

func (c *Container) buildGateway() {
	svc := c.cfg.Service
	c.client = &gateway.InvestmentClient{
		BaseURL:    svc.BaseURL,
		HTTPClient: gateway.NewDefaultHTTPClient(svc.Timeout()),
		Logger:     c.logger,
	}
	// rateLimit 为 0 表示不限流
	if svc.RateLimit > 0 {
		c.client.Limiter = gateway.NewTokenBucketLimiter(svc.RateLimit, svc.Burst)
	}
	if svc.BreakerThreshold > 0 {
		c.client.Breaker = gateway.NewCircuitBreaker(svc.BreakerThreshold,
			time.Duration(svc.BreakerCooldownMs)*time.Millisecond)
	}
}

func (c *Container) buildFlows() error {
	if c.cfg.User.ID == "" {
		return nil
	}
	if err := config.ValidateUser(c.cfg); err != nil {
		return err
	}
	user, err := session.NewUserContext(c.cfg.User.ID)
	if err != nil {
		return err
	}
	c.user = user

	c.orders, err = order.NewManualOrderFlow(c.client, user, order.Options{
		Logger: c.logger,
		Alerts: c.alerts,
	})
	if err != nil {
		return err
	}
	c.strategy, err = autotrade.NewController(c.client, user, autotrade.Options{
		Logger:         c.logger,
		Alerts:         c.alerts,
		AutoClose:      c.cfg.Strategy.AutoClose,
		DisableRefresh: !c.cfg.Strategy.RefreshEnabled(),
	})
	return err
}

func (c *Container) registerLifecycleComponents() error {
	if addr := c.cfg.Metrics.Addr; addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: metrics.Handler(),
			addr:    addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	if c.configPath != "" {
		w, err := config.NewWatcher(c.configPath, 0, c.logger)
		if err != nil {
			return err
		}
		c.watcher = w
		c.lifecycle.Register(&watcherComponent{watcher: w, onUpdate: c.applyConfig})
	}
	return nil
}

// applyConfig 热更新：只调整服务地址与超时，用户身份与流程不随之重建。
func (c *Container) applyConfig(cfg config.AppConfig) {
	c.client.Reconfigure(cfg.Service.BaseURL, cfg.Service.Timeout())

	c.mu.Lock()
	prev := c.cfg
	c.cfg.Service = cfg.Service
	c.cfg.Notices = cfg.Notices
	c.mu.Unlock()

	if prev.User.ID != cfg.User.ID {
		c.logger.Warn("user.id changed in config; restart to switch user")
	}
}

func (c *Container) Start(ctx context.Context) error {
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Debug("container started")
	return nil
}

// Stop 停止组件并废弃进行中的流程请求，迟到的结果不会再修改状态。
func (c *Container) Stop() error {
	var errs []error
	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"flow": "container", "action": "stop", "kind": "lifecycle"})
		errs = append(errs, err)
	}
	if c.orders != nil {
		if err := c.orders.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.strategy != nil {
		if err := c.strategy.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return errors.Join(errs...)
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Config 当前生效配置的副本。
func (c *Container) Config() config.AppConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Container) Logger() *logger.Logger            { return c.logger }
func (c *Container) Alerts() *alert.Manager            { return c.alerts }
func (c *Container) Board() *alert.Board               { return c.board }
func (c *Container) Client() *gateway.InvestmentClient { return c.client }

// User 当前用户；未配置时返回 ErrNoUser。
func (c *Container) User() (session.UserContext, error) {
	if !c.user.Valid() {
		return session.UserContext{}, ErrNoUser
	}
	return c.user, nil
}

func (c *Container) Orders() (*order.ManualOrderFlow, error) {
	if c.orders == nil {
		return nil, ErrNoUser
	}
	return c.orders, nil
}

func (c *Container) Strategy() (*autotrade.Controller, error) {
	if c.strategy == nil {
		return nil, ErrNoUser
	}
	return c.strategy, nil
}
