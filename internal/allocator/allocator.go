package allocator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/execution"
	"github.com/you/mev-bot/internal/portfolio"
	"github.com/you/mev-bot/internal/risk"
	"github.com/you/mev-bot/internal/types"
	"go.uber.org/zap"
)

// SpawnFunc starts a monitor for a freshly opened position. Injected
// by the engine so this package stays free of monitor wiring.
type SpawnFunc func(pos *portfolio.Position)

// CycleResult reports what one decision cycle considered and did, so
// failures are observable without reading logs.
type CycleResult struct {
	Considered     int
	Dispatched     int
	SkippedScore   int
	SkippedCapital int
	SkippedLimits  int
	Failed         int
	Portfolio      portfolio.Snapshot
	Elapsed        time.Duration
	Ts             time.Time
}

// Allocator ranks scored opportunities and admits them greedily by
// score under capital and concurrency limits. Cycles never overlap;
// capital is recomputed before every dispatch, not cached across them.
type Allocator struct {
	cfg    *config.Config
	log    *zap.Logger
	pf     *portfolio.Portfolio
	exec   execution.Executor
	limits *risk.Engine
	spawn  SpawnFunc

	active  atomic.Bool
	cycleMu sync.Mutex
}

func New(cfg *config.Config, pf *portfolio.Portfolio, exec execution.Executor, limits *risk.Engine, spawn SpawnFunc, log *zap.Logger) *Allocator {
	return &Allocator{
		cfg:    cfg,
		log:    log,
		pf:     pf,
		exec:   exec,
		limits: limits,
		spawn:  spawn,
	}
}

func (a *Allocator) Start() { a.active.Store(true) }

// Stop cancels admission of pending dispatches. Monitors of already
// open positions keep running: open risk stays managed until each
// position is explicitly liquidated.
func (a *Allocator) Stop() { a.active.Store(false) }

// RunCycle executes one serialized decision pass over a batch of
// scored opportunities: filter by score, rank, then walk the ranking
// with a fresh capital check per item. Greedy by design; a single
// sorted pass bounds decision latency.
func (a *Allocator) RunCycle(ctx context.Context, opps []types.Opportunity) (CycleResult, error) {
	if !a.active.Load() {
		return CycleResult{}, types.ErrNotStarted
	}
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	start := time.Now()
	res := CycleResult{Considered: len(opps), Ts: start}

	ranked := make([]types.Opportunity, 0, len(opps))
	for _, opp := range opps {
		if !a.limits.AllowScore(opp.Score) {
			res.SkippedScore++
			continue
		}
		ranked = append(ranked, opp)
	}
	// Descending score; cheaper gas wins ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].GasUSD < ranked[j].GasUSD
	})

	for _, opp := range ranked {
		if !a.active.Load() {
			a.log.Warn("allocator stopped mid-cycle; dropping remaining opportunities")
			break
		}
		if a.pf.OpenCount() >= a.limits.MaxConcurrent() {
			a.log.Info("max concurrent strategies reached", zap.Int("open", a.pf.OpenCount()))
			break
		}
		if !a.limits.AllowOpportunity(opp) {
			res.SkippedLimits++
			continue
		}
		available := a.pf.AvailableCapital()
		if !a.limits.AllowCapital(opp.SizeUSD, available) {
			res.SkippedCapital++
			a.log.Info("opportunity skipped: capital constrained",
				zap.String("kind", string(opp.Kind)),
				zap.Float64("score", opp.Score),
				zap.Float64("size_usd", opp.SizeUSD),
				zap.Float64("available_usd", available),
			)
			continue
		}

		if a.dispatch(ctx, opp) {
			res.Dispatched++
		} else {
			res.Failed++
		}
	}

	res.Portfolio = a.pf.Snapshot()
	res.Elapsed = time.Since(start)
	return res, nil
}

func (a *Allocator) dispatch(ctx context.Context, opp types.Opportunity) bool {
	dctx, cancel := context.WithTimeout(ctx, a.cfg.DispatchTimeout())
	defer cancel()

	execRes, err := a.exec.Submit(dctx, types.ExecRequest{Opp: opp})
	if err != nil || !execRes.Success {
		a.pf.RecordDispatch(opp.Kind, false, 0)
		a.log.Warn("dispatch failed",
			zap.String("kind", string(opp.Kind)),
			zap.Float64("score", opp.Score),
			zap.Error(err),
		)
		return false
	}

	pos, err := a.pf.Open(opp, execRes)
	if err != nil {
		// Capital moved between the admission check and settlement.
		a.pf.RecordDispatch(opp.Kind, false, 0)
		a.log.Warn("position open rejected", zap.Error(err))
		return false
	}
	a.pf.RecordDispatch(opp.Kind, true, opp.NetUSD)

	a.log.Info("position opened",
		zap.String("position", pos.ID),
		zap.String("tx", execRes.TxHash),
		zap.Float64("entry_usd", pos.EntryUSD),
		zap.Float64("qty", pos.Quantity),
	)
	if a.spawn != nil {
		a.spawn(pos)
	}
	return true
}

// OnExit settles a closed position through the portfolio's serialized
// update path. Deliberately works while stopped: monitors outlive the
// allocator and their exits must still land.
func (a *Allocator) OnExit(ev types.ExitEvent) {
	pnl, ok := a.pf.Close(ev.PositionID, ev.RealizedUSD)
	if !ok {
		a.log.Debug("exit for already-closed position ignored",
			zap.String("position", ev.PositionID))
		return
	}
	a.log.Info("position settled",
		zap.String("position", ev.PositionID),
		zap.String("reason", string(ev.Reason)),
		zap.Float64("pnl_usd", pnl),
	)
}
