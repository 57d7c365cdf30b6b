package feed

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/mev-bot/internal/types"
)

func decodeRaw(t *testing.T, raw string) (Update, bool) {
	t.Helper()
	var m wireMsg
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return decode(m)
}

func TestDecode_PendingSwap(t *testing.T) {
	u, ok := decodeRaw(t, `{
		"type":"pending_swap",
		"pool":"0x1111111111111111111111111111111111111111",
		"token":"0x2222222222222222222222222222222222222222",
		"trader":"0x3333333333333333333333333333333333333333",
		"amount_in":1000.5,
		"ts_ms":1700000000000
	}`)
	require.True(t, ok)
	require.NotNil(t, u.Event)
	require.NotNil(t, u.Event.Swap)

	assert.Equal(t, types.EventPendingSwap, u.Event.Kind)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), u.Event.Swap.Pool)
	assert.Equal(t, 1000.5, u.Event.Swap.AmountIn)
	assert.Equal(t, int64(1700000000000), u.Event.Swap.Ts.UnixMilli())
}

func TestDecode_PendingSwapRejectsZeroAmount(t *testing.T) {
	_, ok := decodeRaw(t, `{
		"type":"pending_swap",
		"pool":"0x1111111111111111111111111111111111111111",
		"amount_in":0
	}`)
	assert.False(t, ok)
}

func TestDecode_TokenLaunch(t *testing.T) {
	u, ok := decodeRaw(t, `{
		"type":"token_launch",
		"token":"0x2222222222222222222222222222222222222222",
		"pool":"0x1111111111111111111111111111111111111111",
		"verified":true,
		"mint_renounced":true,
		"supply_capped":false,
		"liquidity_locked":true,
		"volatility":0.4,
		"ts_ms":1700000000000
	}`)
	require.True(t, ok)
	require.NotNil(t, u.Event)
	require.NotNil(t, u.Event.Launch)

	assert.Equal(t, types.EventTokenLaunch, u.Event.Kind)
	sec := u.Event.Launch.Security
	assert.True(t, sec.ContractVerified)
	assert.True(t, sec.MintRenounced)
	assert.False(t, sec.SupplyCapped)
	assert.True(t, sec.LiquidityLocked)
	assert.InDelta(t, 0.75, sec.PassRatio(), 1e-9)
	assert.Equal(t, 0.4, u.Event.Launch.Volatility)
}

func TestDecode_GasAndPool(t *testing.T) {
	u, ok := decodeRaw(t, `{"type":"gas","price_gwei":30,"eth_usd":2000,"congestion_pct":55}`)
	require.True(t, ok)
	require.NotNil(t, u.Gas)
	assert.Equal(t, 30.0, u.Gas.PriceGwei)
	assert.Equal(t, 55.0, u.Gas.CongestionPct)

	u, ok = decodeRaw(t, `{
		"type":"pool",
		"pool":"0x1111111111111111111111111111111111111111",
		"reserve_in":1500000,
		"reserve_out":3750000000,
		"liquidity_usd":250000,
		"eth_usd":2000
	}`)
	require.True(t, ok)
	require.NotNil(t, u.Pool)
	assert.Equal(t, 1_500_000.0, u.Pool.State.ReserveIn)
	assert.Equal(t, 250_000.0, u.Pool.State.LiquidityUSD)
}

func TestDecode_UnknownTypeDropped(t *testing.T) {
	_, ok := decodeRaw(t, `{"type":"heartbeat"}`)
	assert.False(t, ok)

	_, ok = decodeRaw(t, `{"type":"pool"}`) // no address
	assert.False(t, ok)
}

func TestCache_GasAndPools(t *testing.T) {
	c := NewCache()
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	assert.False(t, c.Ready())
	_, err := c.Pool(addr)
	assert.ErrorIs(t, err, types.ErrStaleData)

	c.SetGas(types.GasContext{PriceGwei: 25, EthUSD: 2000})
	assert.True(t, c.Ready())
	g, ok := c.Gas()
	assert.True(t, ok)
	assert.Equal(t, 25.0, g.PriceGwei)

	want := types.PoolState{ReserveIn: 100, ReserveOut: 200, LiquidityUSD: 50_000}
	c.SetPool(addr, want)
	got, err := c.Pool(addr)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
