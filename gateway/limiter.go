package gateway

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 控制请求速率，避免连续点击打满后端。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// TokenBucketLimiter 是一个简单的令牌桶实现。
type TokenBucketLimiter struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait 取一个令牌；令牌不足时等待补充，ctx 取消则立即返回。
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	if l.tokens >= 1 {
		l.tokens -= 1
		l.mu.Unlock()
		return nil
	}
	sleep := time.Duration((1-l.tokens)/l.rate*float64(time.Second)) + time.Millisecond
	// 预占令牌，后续调用者排在本次之后
	l.tokens -= 1
	l.mu.Unlock()

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		l.mu.Lock()
		l.tokens += 1
		l.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
