package risk

import (
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/types"
)

// Engine gates opportunities against configured portfolio limits.
type Engine struct{ cfg *config.Config }

func NewEngine(cfg *config.Config) *Engine { return &Engine{cfg: cfg} }

// AllowScore is the admission floor applied before ranking.
func (e *Engine) AllowScore(score float64) bool { return score >= e.cfg.Risk.MinScore }

// AllowOpportunity rejects dispatches whose gas alone breaks the
// per-trade limit, regardless of score.
func (e *Engine) AllowOpportunity(opp types.Opportunity) bool {
	return opp.GasUSD <= e.cfg.Risk.MaxGasUSD
}

// AllowCapital checks the recomputed available balance right before a
// dispatch; a stale check here would let two trades race on the same
// capital.
func (e *Engine) AllowCapital(sizeUSD, availableUSD float64) bool {
	return sizeUSD <= availableUSD
}

func (e *Engine) MaxConcurrent() int { return e.cfg.Risk.MaxConcurrent }
