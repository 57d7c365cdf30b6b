package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/mev-bot/internal/types"
)

// Position is capital committed by a dispatched opportunity, tracked
// until its monitor fires exactly one exit.
type Position struct {
	ID           string
	Kind         types.OpportunityKind
	Subject      common.Address
	EntryUSD     float64
	Quantity     float64
	OpenedAt     time.Time
	HighWaterUSD float64
}

// StrategyStats accumulates per-kind dispatch outcomes. Counters only
// grow; win rate and average profit are derived, never stored.
type StrategyStats struct {
	Executions int
	Successes  int
	ProfitUSD  float64
}

func (s StrategyStats) WinRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Executions)
}

func (s StrategyStats) AvgProfit() float64 {
	if s.Executions == 0 {
		return 0
	}
	return s.ProfitUSD / float64(s.Executions)
}

// Snapshot is a point-in-time copy safe to hand to callers.
type Snapshot struct {
	BalanceUSD       float64
	AvailableUSD     float64
	OpenPositions    int
	RealizedPnLUSD   float64
	TotalTrades      int
	SuccessfulTrades int
	WinRate          float64
	Stats            map[types.OpportunityKind]StrategyStats
}

// Portfolio is the single shared mutable structure in the engine. All
// mutation goes through its methods under one mutex; monitors and the
// allocator never touch fields directly.
type Portfolio struct {
	mu         sync.Mutex
	balanceUSD float64
	positions  map[string]*Position
	realized   float64
	total      int
	successful int
	stats      map[types.OpportunityKind]*StrategyStats
	seq        uint64
}

func New(initialUSD float64) *Portfolio {
	return &Portfolio{
		balanceUSD: initialUSD,
		positions:  make(map[string]*Position, 8),
		stats:      make(map[types.OpportunityKind]*StrategyStats, 2),
	}
}

// AvailableCapital is always recomputed from open notional, never
// cached, so concurrent exits are reflected immediately.
func (p *Portfolio) AvailableCapital() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked()
}

func (p *Portfolio) availableLocked() float64 {
	committed := 0.0
	for _, pos := range p.positions {
		committed += pos.EntryUSD
	}
	return p.balanceUSD - committed
}

func (p *Portfolio) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}

// Open creates a position from a successful dispatch. Returns an error
// instead of overdrawing if capital moved since the admission check.
func (p *Portfolio) Open(opp types.Opportunity, res types.ExecResult) (*Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if opp.SizeUSD > p.availableLocked() {
		return nil, fmt.Errorf("size %.2f exceeds available capital: %w", opp.SizeUSD, types.ErrInsufficientCapital)
	}
	p.seq++
	pos := &Position{
		ID:           fmt.Sprintf("%s-%d", opp.Kind, p.seq),
		Kind:         opp.Kind,
		Subject:      opp.Subject,
		EntryUSD:     opp.SizeUSD,
		Quantity:     res.Quantity,
		OpenedAt:     time.Now(),
		HighWaterUSD: opp.SizeUSD,
	}
	p.positions[pos.ID] = pos
	return pos, nil
}

// UpdateValue refreshes a position's current value and raises its high
// water mark. Returns the mark and whether the position is still open.
func (p *Portfolio) UpdateValue(id string, currentUSD float64) (hwm float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[id]
	if !ok {
		return 0, false
	}
	if currentUSD > pos.HighWaterUSD {
		pos.HighWaterUSD = currentUSD
	}
	return pos.HighWaterUSD, true
}

// Close settles a position exactly once. A second close of the same id
// is a no-op with ok=false, which makes exit triggering idempotent.
func (p *Portfolio) Close(id string, realizedUSD float64) (pnl float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[id]
	if !ok {
		return 0, false
	}
	delete(p.positions, id)
	pnl = realizedUSD - pos.EntryUSD
	p.balanceUSD += pnl
	p.realized += pnl
	return pnl, true
}

// RecordDispatch folds one executor outcome into the running counters.
// Win rate stays successes/total by construction.
func (p *Portfolio) RecordDispatch(kind types.OpportunityKind, success bool, profitUSD float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats[kind]
	if st == nil {
		st = &StrategyStats{}
		p.stats[kind] = st
	}
	st.Executions++
	p.total++
	if success {
		st.Successes++
		p.successful++
		st.ProfitUSD += profitUSD
	}
}

func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := make(map[types.OpportunityKind]StrategyStats, len(p.stats))
	for k, v := range p.stats {
		stats[k] = *v
	}
	winRate := 0.0
	if p.total > 0 {
		winRate = float64(p.successful) / float64(p.total)
	}
	return Snapshot{
		BalanceUSD:       p.balanceUSD,
		AvailableUSD:     p.availableLocked(),
		OpenPositions:    len(p.positions),
		RealizedPnLUSD:   p.realized,
		TotalTrades:      p.total,
		SuccessfulTrades: p.successful,
		WinRate:          winRate,
		Stats:            stats,
	}
}
