package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/mev-bot/internal/types"
	"go.uber.org/zap"
)

// Executor submits an execution request to the venue and reports the
// fill. The allocator only sees this interface, so cycles are testable
// against a deterministic fake with no network behind it.
type Executor interface {
	Submit(ctx context.Context, req types.ExecRequest) (types.ExecResult, error)
}

// Paper simulates fills with a fixed slippage and tracks simulated
// holdings so monitors can poll it like a real venue. Used in dry-run
// and in tests.
type Paper struct {
	SlippageBps float64
	// DriftPct moves the simulated price by this percentage on every
	// price poll; zero holds price at entry.
	DriftPct float64

	log *zap.Logger

	mu     sync.RWMutex
	qty    map[common.Address]float64
	prices map[common.Address]float64
}

func NewPaper(slippageBps, driftPct float64, log *zap.Logger) *Paper {
	return &Paper{
		SlippageBps: slippageBps,
		DriftPct:    driftPct,
		log:         log,
		qty:         make(map[common.Address]float64, 8),
		prices:      make(map[common.Address]float64, 8),
	}
}

func (p *Paper) Submit(_ context.Context, req types.ExecRequest) (types.ExecResult, error) {
	opp := req.Opp
	if opp.EntryPriceUSD <= 0 {
		return types.ExecResult{}, fmt.Errorf("no entry price for %s: %w", opp.Subject.Hex(), types.ErrExecution)
	}
	fill := opp.EntryPriceUSD * (1.0 + p.SlippageBps/10_000.0)
	qty := opp.SizeUSD / fill

	p.mu.Lock()
	p.qty[opp.Subject] += qty
	p.prices[opp.Subject] = fill
	p.mu.Unlock()

	p.log.Info("paper fill",
		zap.String("subject", opp.Subject.Hex()),
		zap.Float64("size_usd", opp.SizeUSD),
		zap.Float64("fill_px", fill),
		zap.Float64("qty", qty),
	)
	return types.ExecResult{
		Success:     true,
		TxHash:      fmt.Sprintf("paper-%s", opp.Subject.Hex()),
		EntryPrice:  fill,
		Quantity:    qty,
		SlippagePct: p.SlippageBps / 100.0,
	}, nil
}

// Price implements the monitor feed for simulated holdings.
func (p *Paper) Price(_ context.Context, subject common.Address) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[subject]
	if !ok {
		return 0, fmt.Errorf("no simulated price for %s: %w", subject.Hex(), types.ErrStaleData)
	}
	px *= 1.0 + p.DriftPct/100.0
	p.prices[subject] = px
	return px, nil
}

func (p *Paper) Balance(_ context.Context, subject common.Address) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.qty[subject], nil
}

// Liquidate zeroes a simulated holding once its position closes.
func (p *Paper) Liquidate(subject common.Address) {
	p.mu.Lock()
	delete(p.qty, subject)
	delete(p.prices, subject)
	p.mu.Unlock()
}
