package autotrade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_autotrade "moneymate-trader/autotrade/mocks"
	"moneymate-trader/gateway"
	"moneymate-trader/infrastructure/alert"
	"moneymate-trader/session"
	"moneymate-trader/tradeerr"
)

var (
	userID   = uuid.MustParse("5a4f3e2d-1c0b-4a9e-8d7c-6b5a4f3e2d1c")
	testUser = session.UserContext{UserID: userID}
)

type decimalMatcher struct{ want decimal.Decimal }

func (m decimalMatcher) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string { return "is decimal " + m.want.String() }

func decEq(s string) gomock.Matcher { return decimalMatcher{want: decimal.RequireFromString(s)} }

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func position(symbol, qty, price string) gateway.PositionRecord {
	q, p := decimal.RequireFromString(qty), decimal.RequireFromString(price)
	return gateway.PositionRecord{Symbol: symbol, CurrentQuantity: q, AveragePrice: p, CurrentPrice: p, CurrentValue: q.Mul(p)}
}

func newController(t *testing.T, opts Options) (*Controller, *mock_autotrade.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mock_autotrade.NewMockService(ctrl)
	c, err := NewController(svc, testUser, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, svc
}

// seed 通过一次 Refresh 装载服务端状态。
func seed(t *testing.T, c *Controller, svc *mock_autotrade.MockService, status string, positions ...gateway.PositionRecord) {
	t.Helper()
	svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{
		Found:     status != "",
		Status:    status,
		Strategy:  "moderate",
		Capital:   decimal.NewFromInt(1000),
		StartDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Positions: positions,
	}, nil)
	require.NoError(t, c.Refresh(context.Background()))
}

func TestNewControllerRequiresUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, err := NewController(mock_autotrade.NewMockService(ctrl), session.UserContext{}, Options{})
	assert.ErrorIs(t, err, session.ErrNoUser)
}

func TestScenarioStartThenConflict(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true, Now: func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }})
	ctx := context.Background()

	svc.EXPECT().
		StartStrategy(gomock.Any(), userID, "aggressive", decEq("1000")).
		Return([]gateway.PositionRecord{position("TSLA", "2", "250"), position("NVDA", "1", "500")}, nil).
		Times(1)

	require.NoError(t, c.Start(ctx, KindAggressive, decimal.NewFromInt(1000)))
	snap := c.Snapshot()
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, KindAggressive, snap.Kind)
	assert.True(t, snap.Capital.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 2024, snap.StartDate.Year())
	assert.Len(t, snap.Positions, 2)

	// 第二次 start 不得发请求，mock 上没有更多期望
	err := c.Start(ctx, KindConservative, decimal.NewFromInt(500))
	require.ErrorIs(t, err, tradeerr.ErrConflict)
	assert.Contains(t, err.Error(), "an active strategy is already running")
	assert.Equal(t, StatusActive, c.Snapshot().Status)
}

func TestStartValidation(t *testing.T) {
	c, _ := newController(t, Options{DisableRefresh: true})
	ctx := context.Background()
	assert.ErrorIs(t, c.Start(ctx, KindModerate, decimal.Zero), tradeerr.ErrValidation)
	assert.ErrorIs(t, c.Start(ctx, KindModerate, decimal.NewFromInt(-5)), tradeerr.ErrValidation)
	assert.ErrorIs(t, c.Start(ctx, Kind("yolo"), decimal.NewFromInt(5)), tradeerr.ErrValidation)
}

func TestStartConflictByStatus(t *testing.T) {
	for _, tc := range []struct {
		status   Status
		conflict bool
	}{
		{StatusNone, false},
		{StatusActive, true},
		{StatusPaused, true},
		{StatusStopped, true},
		{StatusClosed, false},
	} {
		t.Run(string(tc.status), func(t *testing.T) {
			c, svc := newController(t, Options{DisableRefresh: true})
			c.alloc.Status = tc.status
			if !tc.conflict {
				svc.EXPECT().StartStrategy(gomock.Any(), userID, "moderate", decEq("250")).Return(nil, nil)
			}
			err := c.Start(context.Background(), KindModerate, decimal.NewFromInt(250))
			if tc.conflict {
				assert.ErrorIs(t, err, tradeerr.ErrConflict)
				assert.Equal(t, tc.status, c.Snapshot().Status)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, StatusActive, c.Snapshot().Status)
			}
		})
	}
}

func TestScenarioStopSellClose(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	ctx := context.Background()
	seed(t, c, svc, "active", position("AAPL", "5", "150"))

	svc.EXPECT().StrategyAction(gomock.Any(), "stop", userID).Return(nil)
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StatusStopped, c.Snapshot().Status)
	assert.Len(t, c.Snapshot().Positions, 1)

	err := c.Close(ctx)
	require.ErrorIs(t, err, tradeerr.ErrPreconditionFailed)
	assert.Contains(t, err.Error(), "positions must be liquidated first")

	svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", decEq("5")).Return(nil)
	res, err := c.SellPosition(ctx, "aapl")
	require.NoError(t, err)
	assert.False(t, res.AutoClosed)
	assert.Empty(t, c.Snapshot().Positions)

	svc.EXPECT().StrategyAction(gomock.Any(), "close", userID).Return(nil)
	require.NoError(t, c.Close(ctx))
	snap := c.Snapshot()
	assert.Equal(t, StatusClosed, snap.Status)
	assert.True(t, snap.Capital.IsZero())
}

func TestClosePreconditions(t *testing.T) {
	aapl := Position{Symbol: "AAPL", CurrentQuantity: decimal.NewFromInt(1)}
	for _, tc := range []struct {
		name      string
		status    Status
		positions []Position
		ok        bool
	}{
		{"stopped empty", StatusStopped, nil, true},
		{"stopped with positions", StatusStopped, []Position{aapl}, false},
		{"active empty", StatusActive, nil, false},
		{"paused empty", StatusPaused, nil, false},
		{"none", StatusNone, nil, false},
		{"closed", StatusClosed, nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, svc := newController(t, Options{DisableRefresh: true})
			c.alloc.Status = tc.status
			c.alloc.Positions = tc.positions
			if tc.ok {
				svc.EXPECT().StrategyAction(gomock.Any(), "close", userID).Return(nil)
				assert.NoError(t, c.Close(context.Background()))
				return
			}
			err := c.Close(context.Background())
			assert.ErrorIs(t, err, tradeerr.ErrPreconditionFailed)
			assert.Equal(t, "close", tradeerr.ActionOf(err))
			assert.Equal(t, tc.status, c.Snapshot().Status)
		})
	}
}

func TestSellRemovesExactlyOnePosition(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	seed(t, c, svc, "paused", position("AAPL", "5", "150"), position("MSFT", "2", "400"), position("VOO", "1.5", "420"))

	svc.EXPECT().SellPosition(gomock.Any(), userID, "MSFT", decEq("2")).Return(nil)
	res, err := c.SellPosition(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", res.Symbol)

	want := toPositions([]gateway.PositionRecord{position("AAPL", "5", "150"), position("VOO", "1.5", "420")})
	if diff := cmp.Diff(want, c.Snapshot().Positions, decimalComparer); diff != "" {
		t.Fatalf("positions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StatusPaused, c.Snapshot().Status)
}

func TestSellPreconditions(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	seed(t, c, svc, "active", position("AAPL", "5", "150"))
	ctx := context.Background()

	_, err := c.SellPosition(ctx, "AAPL")
	require.ErrorIs(t, err, tradeerr.ErrConflict)
	assert.Equal(t, "sell-AAPL", tradeerr.ActionOf(err))

	c.alloc.Status = StatusStopped
	_, err = c.SellPosition(ctx, "GOOG")
	assert.ErrorIs(t, err, tradeerr.ErrValidation)
	assert.Len(t, c.Snapshot().Positions, 1)
}

func TestRemoteFailureKeepsPriorState(t *testing.T) {
	board := alert.NewBoard("board", 10)
	c, svc := newController(t, Options{DisableRefresh: true, Alerts: alert.NewManager([]alert.Channel{board}, time.Minute)})
	seed(t, c, svc, "active", position("AAPL", "5", "150"))
	ctx := context.Background()

	svc.EXPECT().StrategyAction(gomock.Any(), "pause", userID).Return(&gateway.StatusError{Code: 500, Body: "boom"})
	err := c.Pause(ctx)
	require.ErrorIs(t, err, tradeerr.ErrRemote)
	assert.Equal(t, "pause", tradeerr.ActionOf(err))
	snap := c.Snapshot()
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, err, snap.LastError)

	notices := board.Active()
	require.Len(t, notices, 1)
	assert.Equal(t, "pause", notices[0].Action)

	c.alloc.Status = StatusStopped
	svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", gomock.Any()).Return(errors.New("connection reset"))
	_, err = c.SellPosition(ctx, "AAPL")
	require.ErrorIs(t, err, tradeerr.ErrRemote)
	assert.Equal(t, "sell-AAPL", tradeerr.ActionOf(err))
	assert.Len(t, c.Snapshot().Positions, 1)

	// 重试成功后提示被清除
	c.alloc.Status = StatusActive
	svc.EXPECT().StrategyAction(gomock.Any(), "pause", userID).Return(nil)
	require.NoError(t, c.Pause(ctx))
	for _, n := range board.Active() {
		assert.NotEqual(t, "pause", n.Action)
	}
}

func TestPauseResumeStopRules(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	ctx := context.Background()

	assert.ErrorIs(t, c.Pause(ctx), tradeerr.ErrConflict)
	assert.ErrorIs(t, c.Resume(ctx), tradeerr.ErrConflict)
	assert.ErrorIs(t, c.Stop(ctx), tradeerr.ErrConflict)

	c.alloc.Status = StatusActive
	assert.ErrorIs(t, c.Resume(ctx), tradeerr.ErrConflict)

	gomock.InOrder(
		svc.EXPECT().StrategyAction(gomock.Any(), "pause", userID).Return(nil),
		svc.EXPECT().StrategyAction(gomock.Any(), "resume", userID).Return(nil),
		svc.EXPECT().StrategyAction(gomock.Any(), "pause", userID).Return(nil),
		svc.EXPECT().StrategyAction(gomock.Any(), "stop", userID).Return(nil),
	)
	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, StatusPaused, c.Snapshot().Status)
	require.NoError(t, c.Resume(ctx))
	assert.Equal(t, StatusActive, c.Snapshot().Status)
	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StatusStopped, c.Snapshot().Status)

	assert.ErrorIs(t, c.Pause(ctx), tradeerr.ErrConflict)
}

func TestAutoCloseOnLiquidation(t *testing.T) {
	t.Run("stopped and enabled", func(t *testing.T) {
		c, svc := newController(t, Options{DisableRefresh: true, AutoClose: true})
		seed(t, c, svc, "stopped", position("AAPL", "5", "150"))
		gomock.InOrder(
			svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", decEq("5")).Return(nil),
			svc.EXPECT().StrategyAction(gomock.Any(), "close", userID).Return(nil),
		)
		res, err := c.SellPosition(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.True(t, res.AutoClosed)
		assert.NoError(t, res.CloseErr)
		assert.Equal(t, StatusClosed, c.Snapshot().Status)
	})

	t.Run("close fails after sell", func(t *testing.T) {
		c, svc := newController(t, Options{DisableRefresh: true, AutoClose: true})
		seed(t, c, svc, "stopped", position("AAPL", "5", "150"))
		svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", gomock.Any()).Return(nil)
		svc.EXPECT().StrategyAction(gomock.Any(), "close", userID).Return(errors.New("timeout"))
		res, err := c.SellPosition(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.False(t, res.AutoClosed)
		assert.ErrorIs(t, res.CloseErr, tradeerr.ErrRemote)
		snap := c.Snapshot()
		assert.Equal(t, StatusStopped, snap.Status)
		assert.Empty(t, snap.Positions)
	})

	t.Run("paused does not close", func(t *testing.T) {
		c, svc := newController(t, Options{DisableRefresh: true, AutoClose: true})
		seed(t, c, svc, "paused", position("AAPL", "5", "150"))
		svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", gomock.Any()).Return(nil)
		res, err := c.SellPosition(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.False(t, res.AutoClosed)
		assert.Equal(t, StatusPaused, c.Snapshot().Status)
	})

	t.Run("disabled", func(t *testing.T) {
		c, svc := newController(t, Options{DisableRefresh: true})
		seed(t, c, svc, "stopped", position("AAPL", "5", "150"))
		svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", gomock.Any()).Return(nil)
		res, err := c.SellPosition(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.False(t, res.AutoClosed)
		assert.Equal(t, StatusStopped, c.Snapshot().Status)
	})
}

func TestRefreshAfterMutation(t *testing.T) {
	c, svc := newController(t, Options{})
	seed(t, c, svc, "active", position("AAPL", "5", "150"))

	gomock.InOrder(
		svc.EXPECT().StrategyAction(gomock.Any(), "pause", userID).Return(nil),
		svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{
			Found:     true,
			Status:    "paused",
			Strategy:  "moderate",
			Capital:   decimal.NewFromInt(1000),
			Positions: []gateway.PositionRecord{position("AAPL", "5", "155")},
		}, nil),
	)
	require.NoError(t, c.Pause(context.Background()))
	snap := c.Snapshot()
	assert.Equal(t, StatusPaused, snap.Status)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].CurrentPrice.Equal(decimal.NewFromInt(155)))
	assert.NoError(t, snap.RefreshError)
}

func TestFailedRefreshDoesNotUndoTransition(t *testing.T) {
	board := alert.NewBoard("board", 10)
	c, svc := newController(t, Options{Alerts: alert.NewManager([]alert.Channel{board}, time.Minute)})
	seed(t, c, svc, "active")

	svc.EXPECT().StrategyAction(gomock.Any(), "stop", userID).Return(nil)
	svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{}, errors.New("status 502"))
	require.NoError(t, c.Stop(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StatusStopped, snap.Status)
	assert.ErrorIs(t, snap.RefreshError, tradeerr.ErrRemote)
	assert.NoError(t, snap.LastError)

	var sawWarning bool
	for _, n := range board.Active() {
		if n.Action == "stop" && n.Level == alert.LevelWarning {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning, "expected a refresh warning tied to stop")
}

func TestRefreshKeepsClosedWhenAllocationGone(t *testing.T) {
	c, svc := newController(t, Options{})
	seed(t, c, svc, "stopped")

	svc.EXPECT().StrategyAction(gomock.Any(), "close", userID).Return(nil)
	svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{}, nil)
	require.NoError(t, c.Close(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StatusClosed, snap.Status)
	assert.True(t, snap.Capital.IsZero())
	assert.Equal(t, KindModerate, snap.Kind)
}

func TestRefreshZeroesClosedCapital(t *testing.T) {
	c, svc := newController(t, Options{})
	seed(t, c, svc, "stopped")

	svc.EXPECT().StrategyAction(gomock.Any(), "close", userID).Return(nil)
	svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{
		Found:     true,
		Status:    "closed",
		Strategy:  "moderate",
		Capital:   decimal.NewFromInt(1000),
		Positions: []gateway.PositionRecord{position("AAPL", "0", "150")},
	}, nil)
	require.NoError(t, c.Close(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StatusClosed, snap.Status)
	assert.True(t, snap.Capital.IsZero(), "closed capital %s", snap.Capital)
	assert.Empty(t, snap.Positions)
	assert.NoError(t, snap.RefreshError)
}

func TestSellReportsServiceSideClose(t *testing.T) {
	closedSnap := gateway.StrategySnapshot{Found: true, Status: "closed", Strategy: "moderate", Capital: decimal.NewFromInt(1000)}

	t.Run("stopped", func(t *testing.T) {
		board := alert.NewBoard("board", 10)
		c, svc := newController(t, Options{AutoClose: true, Alerts: alert.NewManager([]alert.Channel{board}, time.Minute)})
		seed(t, c, svc, "stopped", position("AAPL", "5", "150"))
		// 服务端已关闭，不再发送 close
		gomock.InOrder(
			svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", decEq("5")).Return(nil),
			svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(closedSnap, nil),
		)
		res, err := c.SellPosition(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.True(t, res.AutoClosed)
		assert.True(t, res.ClosedByService)
		assert.NoError(t, res.CloseErr)

		snap := c.Snapshot()
		assert.Equal(t, StatusClosed, snap.Status)
		assert.True(t, snap.Capital.IsZero())

		var sawInfo bool
		for _, n := range board.Active() {
			if n.Action == "sell-AAPL" && n.Level == alert.LevelInfo {
				sawInfo = true
			}
		}
		assert.True(t, sawInfo, "expected a notice that the strategy closed")
	})

	t.Run("still stopped", func(t *testing.T) {
		c, svc := newController(t, Options{})
		seed(t, c, svc, "stopped", position("AAPL", "5", "150"), position("MSFT", "2", "400"))
		svc.EXPECT().SellPosition(gomock.Any(), userID, "AAPL", gomock.Any()).Return(nil)
		svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{
			Found: true, Status: "stopped", Strategy: "moderate", Capital: decimal.NewFromInt(1000),
			Positions: []gateway.PositionRecord{position("MSFT", "2", "400")},
		}, nil)
		res, err := c.SellPosition(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.False(t, res.AutoClosed)
		assert.False(t, res.ClosedByService)
		assert.Equal(t, StatusStopped, c.Snapshot().Status)
	})
}

func TestRefreshRejectsUnknownStatus(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{Found: true, Status: "liquidating"}, nil)
	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, tradeerr.ErrRemote)
	assert.Equal(t, tradeerr.KindParse, tradeerr.KindOf(err))
	assert.False(t, c.Snapshot().Loaded)
}

func TestRefreshNoAllocation(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	svc.EXPECT().CurrentStrategy(gomock.Any(), userID).Return(gateway.StrategySnapshot{}, nil)
	require.NoError(t, c.Refresh(context.Background()))
	snap := c.Snapshot()
	assert.True(t, snap.Loaded)
	assert.Equal(t, StatusNone, snap.Status)
}

func TestInFlightGuardAndShutdown(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	seed(t, c, svc, "active")

	started := make(chan struct{})
	svc.EXPECT().StrategyAction(gomock.Any(), "pause", userID).DoAndReturn(
		func(ctx context.Context, action string, id uuid.UUID) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})

	done := make(chan error, 1)
	go func() { done <- c.Pause(context.Background()) }()
	<-started

	assert.Equal(t, "pause", c.Snapshot().InFlight)
	assert.ErrorIs(t, c.Stop(context.Background()), tradeerr.ErrConflict)

	require.NoError(t, c.Shutdown())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, tradeerr.ErrFlowClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not abandon the request")
	}
	snap := c.Snapshot()
	assert.True(t, snap.Closed)
	assert.Equal(t, StatusActive, snap.Status)
	assert.ErrorIs(t, c.Refresh(context.Background()), tradeerr.ErrFlowClosed)
}

func TestInvestments(t *testing.T) {
	c, svc := newController(t, Options{DisableRefresh: true})
	svc.EXPECT().AutoInvestments(gomock.Any(), userID).Return([]gateway.InvestmentRecord{{ID: "1", Symbol: "VOO"}}, nil)
	records, err := c.Investments(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	svc.EXPECT().AutoInvestments(gomock.Any(), userID).Return(nil, errors.New("down"))
	_, err = c.Investments(context.Background())
	assert.ErrorIs(t, err, tradeerr.ErrRemote)
	assert.Equal(t, "investments", tradeerr.ActionOf(err))
}
