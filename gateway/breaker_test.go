package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.record(outcomeFailure)
	assert.Equal(t, BreakerClosed, cb.State())
	require.NoError(t, cb.Allow())
	cb.record(outcomeFailure)
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	// 冷却后只放行一个探测
	now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.record(outcomeFailure)
	assert.Equal(t, BreakerOpen, cb.State(), "failed probe reopens")

	now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	cb.record(outcomeSuccess)
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreakerIgnoredOutcomeReleasesProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }
	cb.record(outcomeFailure)
	now = now.Add(time.Second)

	require.NoError(t, cb.Allow())
	cb.record(outcomeIgnored)
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.NoError(t, cb.Allow(), "canceled probe frees the slot")
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.record(outcomeFailure)
	cb.record(outcomeSuccess)
	cb.record(outcomeFailure)
	assert.Equal(t, BreakerClosed, cb.State())
	cb.Reset()
	assert.Equal(t, "CLOSED", cb.State().String())
}

func TestClientBreakerSkipsBusinessErrors(t *testing.T) {
	var hits atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusBadRequest)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "rejected", int(status.Load()))
	})
	c.Breaker = NewCircuitBreaker(2, time.Hour)

	for i := 0; i < 3; i++ {
		_, err := c.Price(context.Background(), "AAPL")
		var se *StatusError
		require.True(t, errors.As(err, &se))
	}
	assert.Equal(t, BreakerClosed, c.Breaker.State(), "4xx is not an outage")

	status.Store(http.StatusBadGateway)
	for i := 0; i < 2; i++ {
		_, _ = c.Price(context.Background(), "AAPL")
	}
	assert.Equal(t, BreakerOpen, c.Breaker.State())

	before := hits.Load()
	_, err := c.Price(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, hits.Load(), "no request while open")

	c.Reconfigure("http://other.test", 0)
	assert.Equal(t, BreakerClosed, c.Breaker.State(), "new endpoint resets the breaker")
}
