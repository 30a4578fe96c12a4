package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"moneymate-trader/gateway"
	"moneymate-trader/infrastructure/alert"
	"moneymate-trader/infrastructure/logger"
	"moneymate-trader/metrics"
	"moneymate-trader/session"
	"moneymate-trader/tradeerr"
)

const flowName = "manual_order"

// ErrCanceled 询价过程中用户取消，结果被丢弃。
var ErrCanceled = errors.New("order canceled")

// Service 手动下单依赖的投资服务端口，*gateway.InvestmentClient 实现了它。
type Service interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Execute(ctx context.Context, side string, req gateway.ExecuteRequest, idempotencyKey string) (gateway.ExecutionReceipt, error)
}

// Options 可选依赖，零值可用。
type Options struct {
	Logger *logger.Logger
	Alerts *alert.Manager
	NewKey func() string
	Now    func() time.Time
}

// Snapshot 只读视图，用于渲染。
type Snapshot struct {
	State       FlowState
	Description string
	Draft       *Draft
	Priced      *PricedOrder
	Result      *ExecutionResult
	LastError   error
	InFlight    bool
	Closed      bool
}

// ManualOrderFlow 手动下单流程：草稿 → 询价确认 → 执行 → 成功/失败。
// 每个实例同时最多一个进行中的请求；网络调用期间不持有锁。
type ManualOrderFlow struct {
	svc    Service
	user   session.UserContext
	sm     *StateMachine
	log    *logger.Logger
	alerts *alert.Manager
	newKey func() string
	now    func() time.Time

	lifetime context.Context
	stop     context.CancelFunc

	mu       sync.Mutex
	state    FlowState
	draft    *Draft
	priced   *PricedOrder
	result   *ExecutionResult
	lastErr  error
	inFlight bool
	seq      uint64 // 每次发起请求递增，旧请求的结果据此丢弃
	abort    context.CancelFunc
	closed   bool
}

// NewManualOrderFlow 创建流程，初始为空草稿。
func NewManualOrderFlow(svc Service, user session.UserContext, opts Options) (*ManualOrderFlow, error) {
	if svc == nil {
		return nil, errors.New("order service is required")
	}
	if !user.Valid() {
		return nil, session.ErrNoUser
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.NewKey == nil {
		opts.NewKey = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &ManualOrderFlow{
		svc:      svc,
		user:     user,
		sm:       NewStateMachine(),
		log:      opts.Logger.WithFields(map[string]interface{}{"userId": user.String()}),
		alerts:   opts.Alerts,
		newKey:   opts.NewKey,
		now:      opts.Now,
		lifetime: lifetime,
		stop:     stop,
		state:    StateDrafting,
	}, nil
}

// SubmitDraft 校验草稿并发起一次询价，阻塞到询价完成。
// 校验失败不迁移状态；询价失败停留在 PRICE_CONFIRMATION，可 RetryPrice 或 Cancel。
func (f *ManualOrderFlow) SubmitDraft(ctx context.Context, in DraftInput) error {
	f.mu.Lock()
	if err := f.guardLocked("submit"); err != nil {
		f.mu.Unlock()
		return f.report(err)
	}
	if f.state != StateDrafting {
		f.mu.Unlock()
		return f.report(tradeerr.Conflict("submit", "an order is already in progress; cancel or reset first"))
	}
	d, err := ParseDraft(in)
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()
		return f.report(err)
	}
	f.draft = &d
	f.priced = nil
	f.lastErr = nil
	if err := f.transitionLocked(StatePriceConfirmation, "submit"); err != nil {
		f.mu.Unlock()
		return f.report(err)
	}
	seq, callCtx, done := f.beginCallLocked(ctx)
	f.mu.Unlock()

	return f.lookup(callCtx, seq, done, d.Symbol, "submit")
}

// RetryPrice 在询价失败后重新询价。
func (f *ManualOrderFlow) RetryPrice(ctx context.Context) error {
	f.mu.Lock()
	if err := f.guardLocked("price"); err != nil {
		f.mu.Unlock()
		return f.report(err)
	}
	if f.state != StatePriceConfirmation || f.draft == nil {
		f.mu.Unlock()
		return f.report(tradeerr.Conflict("price", "no draft awaiting a price"))
	}
	if f.priced != nil {
		f.mu.Unlock()
		return f.report(tradeerr.Conflict("price", "price already captured; confirm or cancel"))
	}
	symbol := f.draft.Symbol
	f.lastErr = nil
	seq, callCtx, done := f.beginCallLocked(ctx)
	f.mu.Unlock()

	return f.lookup(callCtx, seq, done, symbol, "price")
}

func (f *ManualOrderFlow) lookup(ctx context.Context, seq uint64, done func(), symbol, action string) error {
	price, err := f.svc.Price(ctx, symbol)
	done()
	if err := f.priceLookupCompleted(seq, price, err); err != nil {
		return f.report(err)
	}
	f.alerts.ActionSucceeded(flowName, action)
	f.alerts.ActionSucceeded(flowName, "price")
	return nil
}

// priceLookupCompleted 询价结果事件：价格 > 0 生成不可变的 PricedOrder。
func (f *ManualOrderFlow) priceLookupCompleted(seq uint64, price decimal.Decimal, callErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("price: %w", tradeerr.ErrFlowClosed)
	}
	if seq != f.seq || f.state != StatePriceConfirmation || f.draft == nil {
		return ErrCanceled
	}
	f.inFlight = false
	f.abort = nil
	if callErr == nil && !price.IsPositive() {
		callErr = fmt.Errorf("service returned non-positive price %s", price)
	}
	if callErr != nil {
		f.lastErr = tradeerr.Remote("price", callErr)
		return f.lastErr
	}
	p := newPricedOrder(*f.draft, price, f.newKey(), f.now())
	f.priced = &p
	f.lastErr = nil
	f.log.Info("price captured",
		zap.String("symbol", p.Symbol),
		zap.String("unitPrice", p.UnitPrice.String()),
		zap.String("totalAmount", p.TotalAmount.String()))
	return nil
}

// Confirm 以已捕获的报价执行订单，阻塞到服务端返回。
// 没有 PricedOrder 时返回 ConflictError 且不发请求。
func (f *ManualOrderFlow) Confirm(ctx context.Context) (ExecutionResult, error) {
	return f.confirm(ctx, "confirm")
}

// Retry 在 FAILED 状态下用同一报价、同一幂等键重新确认。
func (f *ManualOrderFlow) Retry(ctx context.Context) (ExecutionResult, error) {
	f.mu.Lock()
	state := f.state
	f.mu.Unlock()
	if state != StateFailed {
		return ExecutionResult{}, f.report(tradeerr.Conflict("retry", "only a failed order can be retried"))
	}
	return f.confirm(ctx, "retry")
}

func (f *ManualOrderFlow) confirm(ctx context.Context, action string) (ExecutionResult, error) {
	f.mu.Lock()
	if err := f.guardLocked(action); err != nil {
		f.mu.Unlock()
		return ExecutionResult{}, f.report(err)
	}
	if f.priced == nil {
		f.mu.Unlock()
		return ExecutionResult{}, f.report(tradeerr.Conflict(action, "no priced order to confirm"))
	}
	if f.state != StatePriceConfirmation && f.state != StateFailed {
		f.mu.Unlock()
		return ExecutionResult{}, f.report(tradeerr.Conflict(action, "order already executed; reset first"))
	}
	p := *f.priced
	if err := f.transitionLocked(StateExecuting, action); err != nil {
		f.mu.Unlock()
		return ExecutionResult{}, f.report(err)
	}
	f.result = nil
	f.lastErr = nil
	seq, callCtx, done := f.beginCallLocked(ctx)
	f.mu.Unlock()

	req := gateway.ExecuteRequest{UserID: f.user.UserID, Symbol: p.Symbol, Quantity: p.Quantity}
	receipt, err := f.svc.Execute(callCtx, p.Side.Path(), req, p.IdempotencyKey)
	done()

	res := ExecutionResult{Status: ExecutionSuccess, Receipt: receipt, CompletedAt: f.now()}
	if err != nil {
		res = ExecutionResult{Status: ExecutionFailure, ErrorDetail: err.Error(), CompletedAt: f.now()}
	}
	res, err = f.executionCompleted(seq, res, err, action)
	if err != nil {
		return res, f.report(err)
	}
	f.alerts.ActionSucceeded(flowName, "confirm")
	f.alerts.ActionSucceeded(flowName, "retry")
	_ = f.alerts.Info(flowName, action, fmt.Sprintf("%s %d %s at %s executed", p.Side, p.Quantity, p.Symbol, p.UnitPrice.StringFixed(2)))
	return res, nil
}

// executionCompleted 执行结果事件：成功 → SUCCEEDED；失败（业务拒绝或网络错误）→ FAILED，不自动重试。
func (f *ManualOrderFlow) executionCompleted(seq uint64, res ExecutionResult, callErr error, action string) (ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ExecutionResult{}, fmt.Errorf("%s: %w", action, tradeerr.ErrFlowClosed)
	}
	if seq != f.seq || f.state != StateExecuting {
		return ExecutionResult{}, ErrCanceled
	}
	f.inFlight = false
	f.abort = nil
	f.result = &res
	if res.Succeeded() {
		if err := f.transitionLocked(StateSucceeded, action); err != nil {
			return res, err
		}
		p := f.priced
		f.log.LogEvent(zapcore.InfoLevel, "trade_executed", map[string]interface{}{
			"symbol":         p.Symbol,
			"side":           string(p.Side),
			"quantity":       p.Quantity,
			"unitPrice":      p.UnitPrice.String(),
			"totalAmount":    p.TotalAmount.String(),
			"idempotencyKey": p.IdempotencyKey,
		})
		return res, nil
	}
	if err := f.transitionLocked(StateFailed, action); err != nil {
		return res, err
	}
	if callErr == nil {
		callErr = errors.New(res.ErrorDetail)
	}
	f.lastErr = tradeerr.Remote(action, callErr)
	return res, f.lastErr
}

// Cancel 从 DRAFTING 或 PRICE_CONFIRMATION 回到空草稿，放弃进行中的询价；空草稿上调用无副作用。
func (f *ManualOrderFlow) Cancel() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("cancel: %w", tradeerr.ErrFlowClosed)
	}
	if !f.sm.CanCancel(f.state) {
		state := f.state
		f.mu.Unlock()
		return f.report(tradeerr.Conflict("cancel", fmt.Sprintf("cannot cancel while %s", state)))
	}
	if f.state == StateDrafting && f.draft == nil && f.lastErr == nil {
		f.mu.Unlock()
		return nil
	}
	if f.inFlight {
		f.abort()
		f.abort = nil
		f.inFlight = false
		f.seq++
	}
	f.clearLocked()
	err := f.transitionLocked(StateDrafting, "cancel")
	f.mu.Unlock()
	return f.report(err)
}

// Reset 从 SUCCEEDED/FAILED 回到空草稿。
func (f *ManualOrderFlow) Reset() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("reset: %w", tradeerr.ErrFlowClosed)
	}
	switch {
	case f.state == StateDrafting:
		f.clearLocked()
		f.mu.Unlock()
		return nil
	case !f.sm.IsFinalState(f.state):
		state := f.state
		f.mu.Unlock()
		return f.report(tradeerr.Conflict("reset", fmt.Sprintf("cannot reset while %s", state)))
	}
	f.clearLocked()
	err := f.transitionLocked(StateDrafting, "reset")
	f.mu.Unlock()
	return f.report(err)
}

// Close 销毁流程：取消进行中的请求，之后到达的结果全部丢弃。
func (f *ManualOrderFlow) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.inFlight = false
	f.abort = nil
	f.stop()
	f.log.Debug("order flow closed", zap.String("state", string(f.state)))
	return nil
}

// Snapshot 返回当前状态的拷贝。
func (f *ManualOrderFlow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{
		State:       f.state,
		Description: f.sm.GetStateDescription(f.state),
		LastError:   f.lastErr,
		InFlight:    f.inFlight,
		Closed:      f.closed,
	}
	if f.draft != nil {
		d := *f.draft
		s.Draft = &d
	}
	if f.priced != nil {
		p := *f.priced
		s.Priced = &p
	}
	if f.result != nil {
		r := *f.result
		s.Result = &r
	}
	return s
}

func (f *ManualOrderFlow) guardLocked(action string) error {
	if f.closed {
		return fmt.Errorf("%s: %w", action, tradeerr.ErrFlowClosed)
	}
	if f.inFlight {
		return tradeerr.Conflict(action, "request in flight")
	}
	return nil
}

// beginCallLocked 标记请求进行中；请求 ctx 同时受调用方 ctx 与流程生命周期控制。
func (f *ManualOrderFlow) beginCallLocked(parent context.Context) (uint64, context.Context, func()) {
	f.seq++
	f.inFlight = true
	ctx, cancel := context.WithCancel(parent)
	detach := context.AfterFunc(f.lifetime, cancel)
	f.abort = cancel
	return f.seq, ctx, func() {
		detach()
		cancel()
	}
}

func (f *ManualOrderFlow) clearLocked() {
	f.draft = nil
	f.priced = nil
	f.result = nil
	f.lastErr = nil
}

func (f *ManualOrderFlow) transitionLocked(to FlowState, action string) error {
	from := f.state
	if err := f.sm.ValidateTransition(from, to); err != nil {
		return tradeerr.Conflict(action, err.Error())
	}
	if from == to {
		return nil
	}
	f.state = to
	metrics.RecordTransition(flowName, string(from), string(to))
	f.log.LogFlow(flowName, string(from), string(to), map[string]interface{}{"action": action})
	return nil
}

// report 记录失败并推送提示；流程销毁与取消不算失败。
func (f *ManualOrderFlow) report(err error) error {
	if err == nil || errors.Is(err, tradeerr.ErrFlowClosed) || errors.Is(err, ErrCanceled) {
		return err
	}
	kind := tradeerr.KindOf(err).String()
	action := tradeerr.ActionOf(err)
	metrics.RecordActionError(flowName, action, kind)
	f.log.LogError(err, map[string]interface{}{"flow": flowName, "action": action, "kind": kind})
	_ = f.alerts.ActionFailed(flowName, err)
	return err
}
