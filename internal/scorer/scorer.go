package scorer

import (
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/types"
)

// Scorer evaluates one market event against gas and pool context and
// produces a ranked Opportunity. It holds no mutable state and is safe
// to call concurrently for distinct events.
type Scorer struct {
	cfg   *config.Config
	table map[types.EventKind]scoreFn
}

type scoreFn func(ev types.MarketEvent, gas types.GasContext, pool types.PoolState, wallet types.WalletContext) (types.Opportunity, error)

func New(cfg *config.Config) *Scorer {
	s := &Scorer{cfg: cfg}
	s.table = map[types.EventKind]scoreFn{
		types.EventPendingSwap: s.scoreSandwich,
		types.EventTokenLaunch: s.scoreSnipe,
	}
	return s
}

// Score dispatches on the event variant. The variant is decided here,
// once, at the boundary; downstream code never inspects event shape.
func (s *Scorer) Score(ev types.MarketEvent, gas types.GasContext, pool types.PoolState, wallet types.WalletContext) (types.Opportunity, error) {
	fn, ok := s.table[ev.Kind]
	if !ok {
		return types.Opportunity{}, fmt.Errorf("unknown event kind %q: %w", ev.Kind, types.ErrValidation)
	}
	if err := validateContext(gas, pool, s.cfg.Scorer.MinPoolLiquidityUSD); err != nil {
		return types.Opportunity{}, err
	}
	return fn(ev, gas, pool, wallet)
}

func validateContext(gas types.GasContext, pool types.PoolState, liqFloor float64) error {
	if gas.PriceGwei <= 0 {
		return fmt.Errorf("gas context missing current price: %w", types.ErrValidation)
	}
	if pool.LiquidityUSD < liqFloor {
		return fmt.Errorf("pool liquidity %.2f below floor %.2f: %w",
			pool.LiquidityUSD, liqFloor, types.ErrInsufficientLiquidity)
	}
	return nil
}

func (s *Scorer) scoreSandwich(ev types.MarketEvent, gas types.GasContext, pool types.PoolState, _ types.WalletContext) (types.Opportunity, error) {
	sw := ev.Swap
	if sw == nil || sw.Pool == (common.Address{}) {
		return types.Opportunity{}, fmt.Errorf("pending swap missing pool ref: %w", types.ErrValidation)
	}
	if sw.AmountIn <= 0 {
		return types.Opportunity{}, fmt.Errorf("pending swap amount must be positive: %w", types.ErrValidation)
	}
	if pool.ReserveIn <= 0 || pool.ReserveOut <= 0 {
		return types.Opportunity{}, fmt.Errorf("pool reserves empty: %w", types.ErrValidation)
	}

	_, impactPct := AmountOut(sw.AmountIn, pool.ReserveIn, pool.ReserveOut, s.cfg.Scorer.PoolFeePct)

	frontGas := gasCostUSD(s.cfg.Scorer.BaseGasUnits, gas, s.cfg.Scorer.PriorityMultiplier)
	backGas := gasCostUSD(s.cfg.Scorer.BaseGasUnits, gas, 1.0)
	totalGas := frontGas + backGas

	size := s.positionSize(pool.LiquidityUSD, totalGas)
	gross := size * impactPct / 100.0
	net := gross - totalGas

	opp := types.Opportunity{
		Kind:           types.KindSandwich,
		Subject:        sw.Pool,
		SizeUSD:        size,
		EntryPriceUSD:  pool.Price(),
		ImpactPct:      impactPct,
		GrossUSD:       gross,
		GasUSD:         totalGas,
		NetUSD:         net,
		Risk:           s.classifyRisk(impactPct),
		CompetitionPct: gas.CongestionPct,
		GasSpikeRisk:   gas.CongestionPct > s.cfg.Scorer.CongestionSpikePct,
		Ts:             time.Now(),
	}
	opp.Score = s.compose(net, impactPct, totalGas)
	return opp, nil
}

func (s *Scorer) scoreSnipe(ev types.MarketEvent, gas types.GasContext, pool types.PoolState, wallet types.WalletContext) (types.Opportunity, error) {
	tl := ev.Launch
	if tl == nil || tl.Token == (common.Address{}) {
		return types.Opportunity{}, fmt.Errorf("token launch missing token ref: %w", types.ErrValidation)
	}

	sn := s.cfg.Scorer.Snipe
	ratio := tl.Security.PassRatio()
	if ratio < sn.SecurityPassRatio {
		return types.Opportunity{}, fmt.Errorf("security pass ratio %.2f below %.2f: %w",
			ratio, sn.SecurityPassRatio, types.ErrSecurityCheck)
	}

	f := KellyFraction(sn.WinRatio, sn.WinProb)
	if f <= 0 {
		return types.Opportunity{}, fmt.Errorf("no positive edge at p=%.2f b=%.2f: %w",
			sn.WinProb, sn.WinRatio, types.ErrValidation)
	}
	f *= 1.0 - math.Min(tl.Volatility, 0.9)
	if f > sn.MaxFraction {
		f = sn.MaxFraction
	}
	size := f * wallet.AvailableUSD
	if size < s.cfg.Scorer.MinNotionalUSD {
		return types.Opportunity{}, fmt.Errorf("snipe size %.2f below minimum notional: %w",
			size, types.ErrInsufficientCapital)
	}

	snipeGas := gasCostUSD(s.cfg.Scorer.BaseGasUnits, gas, s.cfg.Scorer.PriorityMultiplier)
	edge := sn.WinProb*sn.WinRatio - (1.0 - sn.WinProb)
	gross := size * edge
	net := gross - snipeGas

	opp := types.Opportunity{
		Kind:           types.KindTokenSnipe,
		Subject:        tl.Token,
		SizeUSD:        size,
		EntryPriceUSD:  pool.Price(),
		GrossUSD:       gross,
		GasUSD:         snipeGas,
		NetUSD:         net,
		Risk:           snipeRisk(tl.Volatility),
		CompetitionPct: gas.CongestionPct,
		GasSpikeRisk:   gas.CongestionPct > s.cfg.Scorer.CongestionSpikePct,
		Ts:             time.Now(),
	}
	// Snipes have no price impact of their own; the middle term scores
	// security confidence on the same cap instead.
	confidence := ratio * s.cfg.Scorer.ImpactCap
	opp.Score = clamp(term(net, s.cfg.Scorer.ProfitCap, s.cfg.Scorer.ProfitScale)+
		confidence+
		gasTerm(net, snipeGas, s.cfg.Scorer.GasEffCap, s.cfg.Scorer.GasEffScale), 0, 100)
	return opp, nil
}

// AmountOut applies the constant-product formula with the trading fee
// folded into the effective input, returning the output amount and the
// price impact as amountIn/reserveIn in percent.
func AmountOut(amountIn, reserveIn, reserveOut, feePct float64) (out, impactPct float64) {
	inWithFee := amountIn * (1.0 - feePct)
	out = reserveOut * inWithFee / (reserveIn + inWithFee)
	impactPct = amountIn / reserveIn * 100.0
	return out, impactPct
}

// KellyFraction returns (b*p - q)/b for payoff ratio b and win
// probability p.
func KellyFraction(b, p float64) float64 {
	if b <= 0 {
		return 0
	}
	q := 1.0 - p
	return (b*p - q) / b
}

func gasCostUSD(units float64, gas types.GasContext, multiplier float64) float64 {
	return units * gas.PriceGwei * multiplier * 1e-9 * gas.EthUSD
}

// positionSize bounds the front-run notional by a fixed fraction of
// pool liquidity and floors it at a multiple of gas cost so marginal
// trades are not worth dispatching.
func (s *Scorer) positionSize(liquidityUSD, gasUSD float64) float64 {
	liqBound := s.cfg.Scorer.MaxPoolFraction * liquidityUSD
	floor := math.Max(s.cfg.Scorer.GasProfitMultiple*gasUSD, s.cfg.Scorer.MinNotionalUSD)
	return math.Min(liqBound, floor)
}

func (s *Scorer) classifyRisk(impactPct float64) types.RiskLevel {
	switch {
	case impactPct > s.cfg.Scorer.HighImpactPct:
		return types.RiskHigh
	case impactPct >= s.cfg.Scorer.MedImpactPct:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

func snipeRisk(volatility float64) types.RiskLevel {
	switch {
	case volatility > 0.6:
		return types.RiskHigh
	case volatility > 0.3:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

// compose sums three independently capped contributions. No single
// term can saturate the score on its own.
func (s *Scorer) compose(netUSD, impactPct, gasUSD float64) float64 {
	sc := &s.cfg.Scorer
	total := term(netUSD, sc.ProfitCap, sc.ProfitScale) +
		clamp(impactPct*sc.ImpactScale, 0, sc.ImpactCap) +
		gasTerm(netUSD, gasUSD, sc.GasEffCap, sc.GasEffScale)
	return clamp(total, 0, 100)
}

func term(netUSD, cap, scale float64) float64 {
	return clamp(netUSD/scale, 0, cap)
}

func gasTerm(netUSD, gasUSD, cap, scale float64) float64 {
	if gasUSD <= 0 {
		return 0
	}
	return clamp(netUSD/gasUSD*scale, 0, cap)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
