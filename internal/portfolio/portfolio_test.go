package portfolio

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/mev-bot/internal/types"
)

func testOpp(size float64) types.Opportunity {
	return types.Opportunity{
		Kind:    types.KindSandwich,
		Subject: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SizeUSD: size,
	}
}

func TestOpen_CommitsCapital(t *testing.T) {
	pf := New(1000)

	pos, err := pf.Open(testOpp(400), types.ExecResult{Success: true, Quantity: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, 400.0, pos.EntryUSD)
	assert.Equal(t, 400.0, pos.HighWaterUSD)

	assert.Equal(t, 600.0, pf.AvailableCapital())
	assert.Equal(t, 1, pf.OpenCount())
}

func TestOpen_RejectsOverdraw(t *testing.T) {
	pf := New(1000)

	_, err := pf.Open(testOpp(700), types.ExecResult{Success: true})
	require.NoError(t, err)

	_, err = pf.Open(testOpp(400), types.ExecResult{Success: true})
	assert.ErrorIs(t, err, types.ErrInsufficientCapital)
	assert.Equal(t, 1, pf.OpenCount())
}

func TestClose_IdempotentAndSettles(t *testing.T) {
	pf := New(1000)
	pos, err := pf.Open(testOpp(400), types.ExecResult{Success: true})
	require.NoError(t, err)

	pnl, ok := pf.Close(pos.ID, 500)
	assert.True(t, ok)
	assert.Equal(t, 100.0, pnl)

	snap := pf.Snapshot()
	assert.Equal(t, 1100.0, snap.BalanceUSD)
	assert.Equal(t, 1100.0, snap.AvailableUSD)
	assert.Equal(t, 100.0, snap.RealizedPnLUSD)
	assert.Equal(t, 0, snap.OpenPositions)

	// second close of the same id must be a no-op
	pnl, ok = pf.Close(pos.ID, 9999)
	assert.False(t, ok)
	assert.Equal(t, 0.0, pnl)
	assert.Equal(t, 1100.0, pf.Snapshot().BalanceUSD)
}

func TestUpdateValue_RaisesHighWaterMarkOnly(t *testing.T) {
	pf := New(1000)
	pos, err := pf.Open(testOpp(400), types.ExecResult{Success: true})
	require.NoError(t, err)

	hwm, ok := pf.UpdateValue(pos.ID, 600)
	assert.True(t, ok)
	assert.Equal(t, 600.0, hwm)

	// lower value never lowers the mark
	hwm, ok = pf.UpdateValue(pos.ID, 450)
	assert.True(t, ok)
	assert.Equal(t, 600.0, hwm)

	_, ok = pf.UpdateValue("missing", 100)
	assert.False(t, ok)
}

func TestRecordDispatch_WinRate(t *testing.T) {
	pf := New(1000)

	pf.RecordDispatch(types.KindSandwich, true, 50)
	pf.RecordDispatch(types.KindSandwich, false, 0)
	pf.RecordDispatch(types.KindTokenSnipe, true, 20)

	snap := pf.Snapshot()
	assert.Equal(t, 3, snap.TotalTrades)
	assert.Equal(t, 2, snap.SuccessfulTrades)
	assert.InDelta(t, 2.0/3.0, snap.WinRate, 1e-9)

	sw := snap.Stats[types.KindSandwich]
	assert.Equal(t, 2, sw.Executions)
	assert.Equal(t, 1, sw.Successes)
	assert.InDelta(t, 0.5, sw.WinRate(), 1e-9)
	assert.InDelta(t, 25.0, sw.AvgProfit(), 1e-9)
}

func TestConcurrentExits_Serialized(t *testing.T) {
	pf := New(10_000)

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		pos, err := pf.Open(testOpp(100), types.ExecResult{Success: true})
		require.NoError(t, err)
		ids = append(ids, pos.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		// two racing closers per position; exactly one may win
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				pf.Close(id, 150)
			}(id)
		}
	}
	wg.Wait()

	snap := pf.Snapshot()
	assert.Equal(t, 0, snap.OpenPositions)
	assert.InDelta(t, 10*50.0, snap.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, 10_500.0, snap.BalanceUSD, 1e-9)
}
