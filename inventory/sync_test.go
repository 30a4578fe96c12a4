package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSyncReplayOrdersByTime(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := Sync{}
	skipped := s.Replay([]Fill{
		{Symbol: "AAPL", Side: "SELL", Quantity: d("5"), Price: d("170"), Timestamp: base.Add(2 * time.Hour)},
		{Symbol: "AAPL", Side: "buy", Quantity: d("10"), Price: d("150"), Timestamp: base},
		{Symbol: "AAPL", Side: "DIVIDEND", Quantity: d("1"), Price: d("1"), Timestamp: base.Add(time.Hour)},
	})
	assert.Equal(t, 1, skipped)
	assert.True(t, s.Tracker.NetExposure("AAPL").Equal(d("5")))
	assert.True(t, s.Tracker.AvgCost("AAPL").Equal(d("150")))

	sum := s.Snapshot(map[string]decimal.Decimal{"AAPL": d("160")})
	assert.True(t, sum.UnrealizedPnL.Equal(d("50")))
}

func TestSyncSnapshotWithoutTracker(t *testing.T) {
	var s Sync
	assert.Empty(t, s.Snapshot(nil).Lines)
}
