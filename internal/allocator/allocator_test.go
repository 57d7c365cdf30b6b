package allocator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/portfolio"
	"github.com/you/mev-bot/internal/risk"
	"github.com/you/mev-bot/internal/types"
	"go.uber.org/zap"
)

type fakeExec struct {
	mu        sync.Mutex
	submitted []types.Opportunity
	fail      bool
}

func (f *fakeExec) Submit(_ context.Context, req types.ExecRequest) (types.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return types.ExecResult{}, errors.New("venue rejected order")
	}
	f.submitted = append(f.submitted, req.Opp)
	return types.ExecResult{
		Success:    true,
		TxHash:     "0xabc",
		EntryPrice: req.Opp.EntryPriceUSD,
		Quantity:   req.Opp.SizeUSD,
	}, nil
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func opp(kind types.OpportunityKind, score, size, gas float64) types.Opportunity {
	return types.Opportunity{
		Kind:          kind,
		Subject:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Score:         score,
		SizeUSD:       size,
		GasUSD:        gas,
		NetUSD:        size * 0.01,
		EntryPriceUSD: 1.0,
	}
}

func newAllocator(cfg *config.Config, pf *portfolio.Portfolio, exec *fakeExec, spawn SpawnFunc) *Allocator {
	return New(cfg, pf, exec, risk.NewEngine(cfg), spawn, zap.NewNop())
}

func TestRunCycle_NotStarted(t *testing.T) {
	a := newAllocator(newTestConfig(), portfolio.New(1000), &fakeExec{}, nil)

	_, err := a.RunCycle(context.Background(), []types.Opportunity{opp(types.KindSandwich, 90, 100, 5)})
	assert.ErrorIs(t, err, types.ErrNotStarted)
}

func TestRunCycle_DispatchesByScore(t *testing.T) {
	pf := portfolio.New(10_000)
	exec := &fakeExec{}
	a := newAllocator(newTestConfig(), pf, exec, nil)
	a.Start()

	opps := []types.Opportunity{
		opp(types.KindSandwich, 40, 100, 5),
		opp(types.KindSandwich, 90, 100, 5),
		opp(types.KindSandwich, 70, 100, 5),
	}
	res, err := a.RunCycle(context.Background(), opps)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Considered)
	assert.Equal(t, 3, res.Dispatched)
	require.Len(t, exec.submitted, 3)
	assert.Equal(t, 90.0, exec.submitted[0].Score)
	assert.Equal(t, 70.0, exec.submitted[1].Score)
	assert.Equal(t, 40.0, exec.submitted[2].Score)
}

func TestRunCycle_TieBrokenByCheaperGas(t *testing.T) {
	pf := portfolio.New(10_000)
	exec := &fakeExec{}
	a := newAllocator(newTestConfig(), pf, exec, nil)
	a.Start()

	expensive := opp(types.KindSandwich, 80, 100, 25)
	cheap := opp(types.KindSandwich, 80, 100, 5)
	_, err := a.RunCycle(context.Background(), []types.Opportunity{expensive, cheap})
	require.NoError(t, err)

	require.Len(t, exec.submitted, 2)
	assert.Equal(t, 5.0, exec.submitted[0].GasUSD)
	assert.Equal(t, 25.0, exec.submitted[1].GasUSD)
}

func TestRunCycle_CapitalConstrained(t *testing.T) {
	// available capital covers only the lower-scoring opportunity:
	// the 90 is skipped as capital-constrained, the 40 dispatches,
	// and no reordering happens.
	pf := portfolio.New(500)
	exec := &fakeExec{}
	a := newAllocator(newTestConfig(), pf, exec, nil)
	a.Start()

	big := opp(types.KindSandwich, 90, 600, 5)
	small := opp(types.KindSandwich, 40, 400, 5)
	res, err := a.RunCycle(context.Background(), []types.Opportunity{big, small})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, res.SkippedCapital)
	require.Len(t, exec.submitted, 1)
	assert.Equal(t, 40.0, exec.submitted[0].Score)
}

func TestRunCycle_CommittedNeverExceedsStartingCapital(t *testing.T) {
	start := 1000.0
	pf := portfolio.New(start)
	exec := &fakeExec{}
	a := newAllocator(newTestConfig(), pf, exec, nil)
	a.Start()

	opps := []types.Opportunity{
		opp(types.KindSandwich, 95, 400, 5),
		opp(types.KindSandwich, 85, 400, 5),
		opp(types.KindSandwich, 75, 400, 5),
		opp(types.KindSandwich, 65, 400, 5),
	}
	res, err := a.RunCycle(context.Background(), opps)
	require.NoError(t, err)

	committed := 0.0
	for _, o := range exec.submitted {
		committed += o.SizeUSD
	}
	assert.LessOrEqual(t, committed, start)
	assert.Equal(t, 2, res.Dispatched)
	assert.Equal(t, 2, res.SkippedCapital)
	assert.GreaterOrEqual(t, pf.AvailableCapital(), 0.0)
}

func TestRunCycle_MinScoreFilter(t *testing.T) {
	cfg := newTestConfig()
	cfg.Risk.MinScore = 50
	exec := &fakeExec{}
	a := newAllocator(cfg, portfolio.New(10_000), exec, nil)
	a.Start()

	res, err := a.RunCycle(context.Background(), []types.Opportunity{
		opp(types.KindSandwich, 49, 100, 5),
		opp(types.KindSandwich, 51, 100, 5),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SkippedScore)
	assert.Equal(t, 1, res.Dispatched)
}

func TestRunCycle_MaxConcurrent(t *testing.T) {
	cfg := newTestConfig()
	cfg.Risk.MaxConcurrent = 1
	exec := &fakeExec{}
	a := newAllocator(cfg, portfolio.New(10_000), exec, nil)
	a.Start()

	res, err := a.RunCycle(context.Background(), []types.Opportunity{
		opp(types.KindSandwich, 90, 100, 5),
		opp(types.KindSandwich, 80, 100, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
}

func TestRunCycle_ExecutionFailureRecorded(t *testing.T) {
	pf := portfolio.New(10_000)
	exec := &fakeExec{fail: true}
	a := newAllocator(newTestConfig(), pf, exec, nil)
	a.Start()

	res, err := a.RunCycle(context.Background(), []types.Opportunity{opp(types.KindSandwich, 90, 100, 5)})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Dispatched)
	assert.Equal(t, 0, pf.OpenCount())

	st := pf.Snapshot().Stats[types.KindSandwich]
	assert.Equal(t, 1, st.Executions)
	assert.Equal(t, 0, st.Successes)
}

func TestRunCycle_SpawnsMonitorPerPosition(t *testing.T) {
	pf := portfolio.New(10_000)
	exec := &fakeExec{}
	spawned := 0
	a := newAllocator(newTestConfig(), pf, exec, func(pos *portfolio.Position) {
		spawned++
		assert.NotEmpty(t, pos.ID)
	})
	a.Start()

	_, err := a.RunCycle(context.Background(), []types.Opportunity{
		opp(types.KindSandwich, 90, 100, 5),
		opp(types.KindTokenSnipe, 80, 100, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, spawned)
}

func TestOnExit_SettlesOnceEvenWhenStopped(t *testing.T) {
	pf := portfolio.New(1000)
	exec := &fakeExec{}
	a := newAllocator(newTestConfig(), pf, exec, nil)
	a.Start()

	_, err := a.RunCycle(context.Background(), []types.Opportunity{opp(types.KindSandwich, 90, 400, 5)})
	require.NoError(t, err)
	require.Equal(t, 1, pf.OpenCount())

	// stopping the allocator must not block settlement of open risk
	a.Stop()
	id := "SANDWICH-1"
	a.OnExit(types.ExitEvent{PositionID: id, Reason: types.CloseProfitTarget, RealizedUSD: 500})
	assert.Equal(t, 0, pf.OpenCount())
	assert.InDelta(t, 100.0, pf.Snapshot().RealizedPnLUSD, 1e-9)

	// duplicate exit is ignored
	a.OnExit(types.ExitEvent{PositionID: id, Reason: types.CloseStopLoss, RealizedUSD: 100})
	assert.InDelta(t, 100.0, pf.Snapshot().RealizedPnLUSD, 1e-9)
}
