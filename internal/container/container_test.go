package container

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneymate-trader/autotrade"
	"moneymate-trader/config"
	"moneymate-trader/infrastructure/logger"
	"moneymate-trader/order"
)

const testUserID = "7f1c2d3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f"

func testConfig(baseURL string) config.AppConfig {
	cfg := config.Default()
	cfg.Service.BaseURL = baseURL
	cfg.Service.RateLimit = 0
	cfg.User.ID = testUserID
	return cfg
}

func build(t *testing.T, cfg config.AppConfig, path string, opts Options) *Container {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	c := NewWithConfig(cfg, path, opts)
	require.NoError(t, c.Build())
	return c
}

func TestContainerWiresFlows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price": 150}`))
	}))
	defer srv.Close()

	var console bytes.Buffer
	c := build(t, testConfig(srv.URL), "", Options{Console: &console})
	defer c.Stop()

	flow, err := c.Orders()
	require.NoError(t, err)
	_, err = c.Strategy()
	require.NoError(t, err)
	user, err := c.User()
	require.NoError(t, err)
	assert.Equal(t, testUserID, user.String())

	require.NoError(t, flow.SubmitDraft(context.Background(), order.DraftInput{Symbol: "aapl", Quantity: "10", Side: "BUY"}))
	snap := flow.Snapshot()
	assert.Equal(t, order.StatePriceConfirmation, snap.State)
	assert.Equal(t, "1500.00", snap.Priced.TotalAmount.StringFixed(2))

	// 校验失败的提示同时进入看板与终端
	err = flow.SubmitDraft(context.Background(), order.DraftInput{Symbol: "", Quantity: "1", Side: "BUY"})
	require.Error(t, err)
	assert.NotEmpty(t, c.Board().Active())
	assert.Contains(t, console.String(), "submit")
	assert.Equal(t, []string{"board", "log", "console"}, c.Alerts().GetChannels())
	assert.NotNil(t, c.Client().Breaker)
	assert.Nil(t, c.Client().Limiter, "rateLimit 0 disables the limiter")
}

func TestContainerConsoleToggleAndClearNotices(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Notices.ThrottleMs = 60000
	c := build(t, cfg, "", Options{})
	defer c.Stop()
	assert.False(t, c.ConsoleAttached())

	flow, err := c.Orders()
	require.NoError(t, err)
	bad := order.DraftInput{Symbol: "", Quantity: "1", Side: "BUY"}

	var console bytes.Buffer
	c.AttachConsole(&console)
	c.AttachConsole(&console)
	assert.Equal(t, []string{"board", "log", "console"}, c.Alerts().GetChannels())
	require.Error(t, flow.SubmitDraft(context.Background(), bad))
	printed := console.Len()
	assert.Positive(t, printed)

	c.DetachConsole()
	assert.False(t, c.ConsoleAttached())
	c.ClearNotices()
	assert.Empty(t, c.Board().Active())

	// 限流已重置，同样的失败再次进入看板，但不再输出到终端
	require.Error(t, flow.SubmitDraft(context.Background(), bad))
	assert.Len(t, c.Board().Active(), 1)
	assert.Equal(t, printed, console.Len())
}

func TestContainerWithoutUser(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.User.ID = ""
	c := build(t, cfg, "", Options{})
	defer c.Stop()

	_, err := c.Orders()
	assert.ErrorIs(t, err, ErrNoUser)
	_, err = c.Strategy()
	assert.ErrorIs(t, err, ErrNoUser)
	_, err = c.User()
	assert.ErrorIs(t, err, ErrNoUser)
	assert.NotNil(t, c.Client())
}

func TestContainerRejectsBadUser(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.User.ID = "bob"
	c := NewWithConfig(cfg, "", Options{Logger: logger.NewNop()})
	assert.Error(t, c.Build())
}

func TestContainerStopAbandonsInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := build(t, testConfig(srv.URL), "", Options{})
	flow, _ := c.Orders()
	ctrl, _ := c.Strategy()

	done := make(chan error, 1)
	go func() {
		done <- flow.SubmitDraft(context.Background(), order.DraftInput{Symbol: "AAPL", Quantity: "1", Side: "BUY"})
	}()
	require.Eventually(t, func() bool { return flow.Snapshot().InFlight }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight lookup should be abandoned on stop")
	}
	assert.True(t, flow.Snapshot().Closed)
	assert.True(t, ctrl.Snapshot().Closed)
	assert.Equal(t, order.StatePriceConfirmation, flow.Snapshot().State)
	assert.Nil(t, flow.Snapshot().Priced)
	assert.Equal(t, autotrade.StatusNone, ctrl.Snapshot().Status)
}

func TestContainerMetricsServer(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Metrics.Addr = "127.0.0.1:0"
	c := build(t, cfg, "", Options{})
	assert.Error(t, c.HealthCheck(), "not started yet")

	require.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.HealthCheck())
	require.NoError(t, c.Stop())
}

func TestContainerHotReloadsServiceURL(t *testing.T) {
	var hitsB atomic.Int32
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
		_, _ = w.Write([]byte(`42.5`))
	}))
	defer srvB.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "moneymate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  baseURL: "+srvA.URL+"\n"), 0o644))
	orig := config.EnvFile
	config.EnvFile = filepath.Join(dir, "missing.env")
	defer func() { config.EnvFile = orig }()

	c := build(t, testConfig(srvA.URL), path, Options{})
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.NoError(t, os.WriteFile(path, []byte("service:\n  baseURL: "+srvB.URL+"\n"), 0o644))
	require.Eventually(t, func() bool {
		return c.Config().Service.BaseURL == srvB.URL
	}, 3*time.Second, 10*time.Millisecond)

	price, err := c.Client().Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "42.5", price.String())
	assert.EqualValues(t, 1, hitsB.Load())
	assert.Equal(t, testUserID, c.Config().User.ID, "identity is not reloaded")
}

func TestLifecycleRollback(t *testing.T) {
	m := NewLifecycleManager()
	ok := &stubComponent{}
	bad := &stubComponent{startErr: errors.New("boom")}
	m.Register(ok)
	m.Register(bad)

	assert.Error(t, m.StartAll(context.Background()))
	assert.True(t, ok.stopped, "started components are rolled back")
	assert.Error(t, m.CheckHealth())
}

type stubComponent struct {
	startErr error
	started  bool
	stopped  bool
}

func (s *stubComponent) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *stubComponent) Stop() error { s.stopped = true; return nil }

func (s *stubComponent) Health() error {
	if !s.started {
		return errors.New("not started")
	}
	return nil
}
