package journal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/mev-bot/internal/allocator"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/portfolio"
	"github.com/you/mev-bot/internal/types"
)

func testConfig(addr string) *config.Config {
	cfg := &config.Config{}
	cfg.Redis.Addr = addr
	cfg.ApplyDefaults()
	return cfg
}

func TestPublishExit_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())

	pub := NewPublisher(cfg)
	defer pub.Close()
	con := NewConsumer(cfg)
	defer con.Close()

	ev := types.ExitEvent{
		PositionID:  "SANDWICH-7",
		Reason:      types.CloseTrailingStop,
		RealizedUSD: 123.45,
		Ts:          time.UnixMilli(1700000000000),
	}
	require.NoError(t, pub.PublishExit(context.Background(), ev))

	got, err := con.ReadExit(context.Background(), "SANDWICH-7")
	require.NoError(t, err)
	assert.Equal(t, ev.PositionID, got.PositionID)
	assert.Equal(t, ev.Reason, got.Reason)
	assert.InDelta(t, ev.RealizedUSD, got.RealizedUSD, 1e-9)
	assert.Equal(t, ev.Ts.UnixMilli(), got.Ts.UnixMilli())

	// the event also landed on the stream
	assert.True(t, mr.Exists(cfg.Redis.Stream))
}

func TestPublishCycle_StoresLatestSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())

	pub := NewPublisher(cfg)
	defer pub.Close()

	res := allocator.CycleResult{
		Considered: 5,
		Dispatched: 2,
		Failed:     1,
		Portfolio:  portfolio.Snapshot{BalanceUSD: 9_900, AvailableUSD: 9_000, OpenPositions: 2},
		Elapsed:    1500 * time.Microsecond,
		Ts:         time.UnixMilli(1700000000000),
	}
	require.NoError(t, pub.PublishCycle(context.Background(), res))

	key := cfg.Redis.SnapNS + "latest"
	got := mr.HGet(key, "dispatched")
	assert.Equal(t, "2", got)
	assert.Equal(t, "5", mr.HGet(key, "considered"))
	assert.Equal(t, "9900", mr.HGet(key, "balance_usd"))
}

func TestReadExit_Missing(t *testing.T) {
	mr := miniredis.RunT(t)
	con := NewConsumer(testConfig(mr.Addr()))
	defer con.Close()

	_, err := con.ReadExit(context.Background(), "nope")
	assert.Error(t, err)
}
