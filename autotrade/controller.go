package autotrade

//go:generate mockgen -source=controller.go -destination=mocks/mock_service.go -package=mock_autotrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"moneymate-trader/gateway"
	"moneymate-trader/infrastructure/alert"
	"moneymate-trader/infrastructure/logger"
	"moneymate-trader/metrics"
	"moneymate-trader/session"
	"moneymate-trader/tradeerr"
)

const flowName = "auto_strategy"

// Service 自动策略依赖的投资服务端口，*gateway.InvestmentClient 实现了它。
type Service interface {
	CurrentStrategy(ctx context.Context, userID uuid.UUID) (gateway.StrategySnapshot, error)
	StartStrategy(ctx context.Context, userID uuid.UUID, strategy string, amount decimal.Decimal) ([]gateway.PositionRecord, error)
	StrategyAction(ctx context.Context, action string, userID uuid.UUID) error
	SellPosition(ctx context.Context, userID uuid.UUID, symbol string, quantity decimal.Decimal) error
	AutoInvestments(ctx context.Context, userID uuid.UUID) ([]gateway.InvestmentRecord, error)
}

// Options 可选依赖与开关。
type Options struct {
	Logger *logger.Logger
	Alerts *alert.Manager
	// AutoClose 为 true 时，停止状态下卖空最后一个持仓会立即关闭策略。
	AutoClose bool
	// DisableRefresh 关闭变更成功后的全量刷新。
	DisableRefresh bool
	Now            func() time.Time
}

// SellResult 卖出结果。AutoClosed 表示策略随后关闭：ClosedByService 为 true 时由服务端关闭，
// 否则由本地自动关闭；关闭失败时 CloseErr 非空，卖出本身仍然成功。
type SellResult struct {
	Symbol          string
	Quantity        decimal.Decimal
	AutoClosed      bool
	ClosedByService bool
	CloseErr        error
}

// Snapshot 只读视图。Allocation 是展示缓存，变更后以服务端刷新结果为准。
type Snapshot struct {
	Allocation
	Loaded       bool
	InFlight     string
	LastError    error
	RefreshError error
	Closed       bool
}

// Controller 管理用户自动策略的生命周期：start → active ⇄ paused → stopped → closed。
// 不做乐观更新：远程调用成功后才迁移本地状态，失败时保持原状态。
type Controller struct {
	svc            Service
	user           session.UserContext
	sm             *StateMachine
	log            *logger.Logger
	alerts         *alert.Manager
	autoClose      bool
	refreshOnWrite bool
	now            func() time.Time

	lifetime context.Context
	stop     context.CancelFunc

	mu         sync.Mutex
	alloc      Allocation
	loaded     bool
	inFlight   string
	lastErr    error
	refreshErr error
	closed     bool
}

// NewController 创建控制器，初始状态为 NONE，调用 Refresh 加载服务端状态。
func NewController(svc Service, user session.UserContext, opts Options) (*Controller, error) {
	if svc == nil {
		return nil, errors.New("strategy service is required")
	}
	if !user.Valid() {
		return nil, session.ErrNoUser
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &Controller{
		svc:            svc,
		user:           user,
		sm:             NewStateMachine(),
		log:            opts.Logger.WithFields(map[string]interface{}{"userId": user.String()}),
		alerts:         opts.Alerts,
		autoClose:      opts.AutoClose,
		refreshOnWrite: !opts.DisableRefresh,
		now:            opts.Now,
		lifetime:       lifetime,
		stop:           stop,
		alloc:          Allocation{UserID: user.UserID, Status: StatusNone},
	}, nil
}

// Refresh 拉取当前策略并整体替换本地缓存。
func (c *Controller) Refresh(ctx context.Context) error {
	callCtx, done, err := c.begin(ctx, "refresh")
	if err != nil {
		return c.report(err)
	}
	snap, callErr := c.svc.CurrentStrategy(callCtx, c.user.UserID)
	done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed("refresh")
	}
	c.inFlight = ""
	if callErr != nil {
		c.refreshErr = tradeerr.Remote("refresh", callErr)
		return c.reportLocked(c.refreshErr)
	}
	next, err := fromSnapshot(c.user.UserID, snap)
	if err != nil {
		c.refreshErr = tradeerr.Parse("refresh", err)
		return c.reportLocked(c.refreshErr)
	}
	// 关闭后服务端可能直接查不到策略，本地保持 CLOSED
	if !snap.Found && c.alloc.Status == StatusClosed {
		next = Allocation{UserID: c.user.UserID, Kind: c.alloc.Kind, Status: StatusClosed, Capital: decimal.Zero, StartDate: c.alloc.StartDate}
	}
	if next.Status != c.alloc.Status {
		metrics.RecordTransition(flowName, string(c.alloc.Status), string(next.Status))
		c.log.LogFlow(flowName, string(c.alloc.Status), string(next.Status), map[string]interface{}{"action": "refresh"})
	}
	c.alloc = next
	c.loaded = true
	c.refreshErr = nil
	metrics.StrategyCapital.Set(next.Capital.InexactFloat64())
	c.alerts.ActionSucceeded(flowName, "refresh")
	return nil
}

// Start 以指定档位与资金启动策略。已有 Active/Paused/Stopped 策略时返回 ConflictError，不发请求。
func (c *Controller) Start(ctx context.Context, kind Kind, capital decimal.Decimal) error {
	if !kind.Valid() {
		return c.report(tradeerr.Validation("start", fmt.Sprintf("unknown strategy %q", kind)))
	}
	if !capital.IsPositive() {
		return c.report(tradeerr.Validation("start", "capital must be greater than zero"))
	}
	var positions []gateway.PositionRecord
	return c.mutate(ctx, "start",
		func(a Allocation) error {
			if a.Status.Running() {
				return tradeerr.Conflict("start", "an active strategy is already running")
			}
			return nil
		},
		func(ctx context.Context) error {
			var err error
			positions, err = c.svc.StartStrategy(ctx, c.user.UserID, string(kind), capital)
			return err
		},
		func(a *Allocation) {
			a.UserID = c.user.UserID
			a.Kind = kind
			a.Capital = capital
			a.StartDate = c.now().UTC()
			a.Positions = toPositions(positions)
			a.Status = StatusActive
		})
}

// Pause 仅 ACTIVE 可暂停。
func (c *Controller) Pause(ctx context.Context) error {
	return c.simpleAction(ctx, "pause", StatusPaused, func(s Status) bool { return s == StatusActive }, "strategy is not active")
}

// Resume 仅 PAUSED 可恢复。
func (c *Controller) Resume(ctx context.Context) error {
	return c.simpleAction(ctx, "resume", StatusActive, func(s Status) bool { return s == StatusPaused }, "strategy is not paused")
}

// Stop 从 ACTIVE 或 PAUSED 停止，持仓保留。
func (c *Controller) Stop(ctx context.Context) error {
	return c.simpleAction(ctx, "stop", StatusStopped, func(s Status) bool { return s == StatusActive || s == StatusPaused }, "strategy is not running")
}

func (c *Controller) simpleAction(ctx context.Context, action string, to Status, allowed func(Status) bool, reason string) error {
	return c.mutate(ctx, action,
		func(a Allocation) error {
			if !allowed(a.Status) {
				return tradeerr.Conflict(action, fmt.Sprintf("%s (status %s)", reason, a.Status))
			}
			return nil
		},
		func(ctx context.Context) error {
			return c.svc.StrategyAction(ctx, action, c.user.UserID)
		},
		func(a *Allocation) { a.Status = to })
}

// SellPosition 按当前持仓数量全部卖出某个代码，只允许在 PAUSED/STOPPED 状态。
// 成功后只移除该持仓；若开启 AutoClose 且策略已停止、持仓清空，随即关闭策略。
func (c *Controller) SellPosition(ctx context.Context, symbol string) (SellResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	action := "sell-" + symbol
	var res SellResult
	var from Status
	err := c.mutate(ctx, action,
		func(a Allocation) error {
			if !c.sm.CanSell(a.Status) {
				return tradeerr.Conflict(action, fmt.Sprintf("positions can only be sold while paused or stopped (status %s)", a.Status))
			}
			p, ok := a.Position(symbol)
			if !ok {
				return tradeerr.Validation(action, fmt.Sprintf("no position in %q", symbol))
			}
			res = SellResult{Symbol: p.Symbol, Quantity: p.CurrentQuantity}
			from = a.Status
			return nil
		},
		func(ctx context.Context) error {
			return c.svc.SellPosition(ctx, c.user.UserID, res.Symbol, res.Quantity)
		},
		func(a *Allocation) {
			kept := make([]Position, 0, len(a.Positions))
			for _, p := range a.Positions {
				if p.Symbol != res.Symbol {
					kept = append(kept, p)
				}
			}
			a.Positions = kept
		})
	if err != nil {
		return SellResult{}, err
	}

	c.mu.Lock()
	status := c.alloc.Status
	liquidated := status == StatusStopped && len(c.alloc.Positions) == 0
	c.mu.Unlock()
	switch {
	case from == StatusStopped && status == StatusClosed:
		// 服务端在最后一笔卖出后自行关闭，刷新时才看到
		res.AutoClosed, res.ClosedByService = true, true
		c.log.LogStrategy("auto_close_on_liquidation", string(StatusClosed), map[string]interface{}{"source": "service", "symbol": res.Symbol})
		_ = c.alerts.Info(flowName, action, "all positions sold; strategy closed")
	case c.autoClose && liquidated:
		res.AutoClosed, res.CloseErr = c.autoCloseOnLiquidation(ctx)
	}
	return res, nil
}

// autoCloseOnLiquidation 停止状态下持仓清空后的显式关闭迁移。
func (c *Controller) autoCloseOnLiquidation(ctx context.Context) (bool, error) {
	c.log.LogStrategy("auto_close_on_liquidation", string(StatusStopped), map[string]interface{}{"source": "client"})
	if err := c.Close(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Close 关闭策略，要求状态为 STOPPED 且持仓为空，否则返回 PreconditionFailed，不发请求。
func (c *Controller) Close(ctx context.Context) error {
	return c.mutate(ctx, "close",
		func(a Allocation) error {
			if a.Status != StatusStopped {
				return tradeerr.PreconditionFailed("close", fmt.Sprintf("strategy must be stopped first (status %s)", a.Status))
			}
			if len(a.Positions) > 0 {
				return tradeerr.PreconditionFailed("close", "positions must be liquidated first")
			}
			return nil
		},
		func(ctx context.Context) error {
			return c.svc.StrategyAction(ctx, "close", c.user.UserID)
		},
		func(a *Allocation) {
			a.Status = StatusClosed
			a.Capital = decimal.Zero
			a.Positions = nil
		})
}

// Investments 列出自动策略下的投资记录。
func (c *Controller) Investments(ctx context.Context) ([]gateway.InvestmentRecord, error) {
	callCtx, done, err := c.begin(ctx, "investments")
	if err != nil {
		return nil, c.report(err)
	}
	records, callErr := c.svc.AutoInvestments(callCtx, c.user.UserID)
	done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed("investments")
	}
	c.inFlight = ""
	if callErr != nil {
		return nil, c.reportLocked(tradeerr.Remote("investments", callErr))
	}
	return records, nil
}

// Snapshot 返回缓存拷贝。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Allocation:   c.alloc.clone(),
		Loaded:       c.loaded,
		InFlight:     c.inFlight,
		LastError:    c.lastErr,
		RefreshError: c.refreshErr,
		Closed:       c.closed,
	}
}

// Shutdown 销毁控制器：取消进行中的请求，之后到达的结果全部丢弃。
// Close 是策略动作，销毁单独命名。
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.inFlight = ""
	c.stop()
	c.log.Debug("strategy controller shut down", zap.String("status", string(c.alloc.Status)))
	return nil
}

// mutate 变更动作的统一流程：前置检查（不发请求）→ 远程调用（不持锁）→ 成功后迁移 → 刷新。
func (c *Controller) mutate(ctx context.Context, action string, check func(Allocation) error, call func(context.Context) error, apply func(*Allocation)) error {
	c.mu.Lock()
	if err := c.guardLocked(action); err != nil {
		c.mu.Unlock()
		return c.report(err)
	}
	if err := check(c.alloc); err != nil {
		c.lastErr = err
		c.mu.Unlock()
		return c.report(err)
	}
	callCtx, done := c.beginLocked(ctx, action)
	c.mu.Unlock()

	callErr := call(callCtx)
	done()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed(action)
	}
	c.inFlight = ""
	if callErr != nil {
		c.lastErr = tradeerr.Remote(action, callErr)
		err := c.reportLocked(c.lastErr)
		c.mu.Unlock()
		return err
	}
	from := c.alloc.Status
	next := c.alloc.clone()
	apply(&next)
	if err := c.sm.ValidateTransition(from, next.Status); err != nil {
		// 服务端已接受，本地表不允许时以刷新结果为准
		c.log.Warn("unexpected strategy transition", zap.String("action", action), zap.Error(err))
	}
	c.alloc = next
	c.lastErr = nil
	if from != next.Status {
		metrics.RecordTransition(flowName, string(from), string(next.Status))
		c.log.LogFlow(flowName, string(from), string(next.Status), map[string]interface{}{"action": action})
	}
	c.log.LogStrategy(action, string(next.Status), map[string]interface{}{"capital": next.Capital.String(), "positions": len(next.Positions)})
	metrics.StrategyCapital.Set(next.Capital.InexactFloat64())
	c.mu.Unlock()

	c.alerts.ActionSucceeded(flowName, action)
	if c.refreshOnWrite {
		c.refreshAfter(ctx, action)
	}
	return nil
}

// refreshAfter 变更成功后的刷新；失败只记录提示，不回滚已确认的迁移。
func (c *Controller) refreshAfter(ctx context.Context, action string) {
	err := c.Refresh(ctx)
	if err == nil || errors.Is(err, tradeerr.ErrFlowClosed) {
		return
	}
	c.log.Warn("refresh after mutation failed", zap.String("action", action), zap.Error(err))
	_ = c.alerts.Warn(flowName, action, "action succeeded but the latest strategy state could not be loaded")
}

func (c *Controller) begin(ctx context.Context, action string) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardLocked(action); err != nil {
		return nil, nil, err
	}
	callCtx, done := c.beginLocked(ctx, action)
	return callCtx, done, nil
}

func (c *Controller) guardLocked(action string) error {
	if c.closed {
		return errClosed(action)
	}
	if c.inFlight != "" {
		return tradeerr.Conflict(action, fmt.Sprintf("request in flight (%s)", c.inFlight))
	}
	return nil
}

// beginLocked 请求 ctx 同时受调用方 ctx 与控制器生命周期控制。
func (c *Controller) beginLocked(parent context.Context, action string) (context.Context, func()) {
	c.inFlight = action
	ctx, cancel := context.WithCancel(parent)
	detach := context.AfterFunc(c.lifetime, cancel)
	return ctx, func() {
		detach()
		cancel()
	}
}

func errClosed(action string) error {
	return fmt.Errorf("%s: %w", action, tradeerr.ErrFlowClosed)
}

func (c *Controller) report(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportLocked(err)
}

func (c *Controller) reportLocked(err error) error {
	if err == nil || errors.Is(err, tradeerr.ErrFlowClosed) {
		return err
	}
	kind := tradeerr.KindOf(err).String()
	action := tradeerr.ActionOf(err)
	metrics.RecordActionError(flowName, action, kind)
	c.log.LogError(err, map[string]interface{}{"flow": flowName, "action": action, "kind": kind})
	_ = c.alerts.ActionFailed(flowName, err)
	return err
}

func fromSnapshot(userID uuid.UUID, s gateway.StrategySnapshot) (Allocation, error) {
	a := Allocation{UserID: userID, Status: StatusNone}
	if !s.Found {
		return a, nil
	}
	st, err := ParseStatus(s.Status)
	if err != nil {
		return a, err
	}
	a.Status = st
	if s.Strategy != "" {
		if a.Kind, err = ParseKind(s.Strategy); err != nil {
			return a, err
		}
	}
	a.StartDate = s.StartDate
	// 已关闭的策略资金归零、不再持仓，以服务端返回的残留数据为准会误导展示
	if st == StatusClosed {
		a.Capital = decimal.Zero
		return a, nil
	}
	a.Capital = s.Capital
	a.Positions = toPositions(s.Positions)
	return a, nil
}

func toPositions(records []gateway.PositionRecord) []Position {
	out := make([]Position, 0, len(records))
	for _, r := range records {
		out = append(out, Position{
			Symbol:          r.Symbol,
			CurrentQuantity: r.CurrentQuantity,
			AveragePrice:    r.AveragePrice,
			CurrentPrice:    r.CurrentPrice,
			CurrentValue:    r.CurrentValue,
		})
	}
	return out
}
