package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen 连续失败后熔断期间，请求不会发出。
var ErrCircuitOpen = errors.New("investment service unavailable (circuit open)")

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// outcome 一次调用对熔断器的影响。
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored // 调用方取消，不计入
)

// CircuitBreaker 连续 threshold 次服务端/网络故障后打开，cooldown 后放行一个探测请求。
// 4xx 属于业务拒绝，不计为故障。
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	probing         bool
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow 调用前检查；打开期间返回 ErrCircuitOpen。
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		wait := cb.cooldown - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w, retry in %s", ErrCircuitOpen, wait.Round(time.Second))
		}
		cb.state = BreakerHalfOpen
		cb.probing = true
		return nil
	case BreakerHalfOpen:
		// 同时只放行一个探测请求
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(o outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		cb.probing = false
	}
	switch o {
	case outcomeSuccess:
		cb.consecutiveFail = 0
		cb.state = BreakerClosed
	case outcomeFailure:
		cb.consecutiveFail++
		if cb.state == BreakerHalfOpen || cb.consecutiveFail >= cb.threshold {
			cb.state = BreakerOpen
			cb.openedAt = cb.now()
		}
	}
}

// State 当前状态
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset 恢复为关闭状态（服务地址变更后调用）。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.consecutiveFail = 0
	cb.probing = false
	cb.openedAt = time.Time{}
}
