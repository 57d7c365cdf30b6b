package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type OpportunityKind string

const (
	KindSandwich   OpportunityKind = "SANDWICH"
	KindTokenSnipe OpportunityKind = "TOKEN_SNIPE"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

type CloseReason string

const (
	CloseProfitTarget CloseReason = "PROFIT_TARGET"
	CloseStopLoss     CloseReason = "STOP_LOSS"
	CloseTrailingStop CloseReason = "TRAILING_STOP"
	CloseTimeLimit    CloseReason = "TIME_LIMIT"
)

type EventKind string

const (
	EventPendingSwap EventKind = "PENDING_SWAP"
	EventTokenLaunch EventKind = "TOKEN_LAUNCH"
)

// PendingSwap is a victim transaction observed in the mempool.
// AmountIn is denominated in the pool's quote currency.
type PendingSwap struct {
	Pool     common.Address
	Token    common.Address
	AmountIn float64
	Trader   common.Address
	Ts       time.Time
}

// SecurityReport carries the on-chain safety checks for a freshly
// launched token. The ratio of passed checks gates sniping.
type SecurityReport struct {
	ContractVerified bool
	MintRenounced    bool
	SupplyCapped     bool
	LiquidityLocked  bool
}

func (r SecurityReport) PassRatio() float64 {
	passed := 0
	for _, ok := range []bool{r.ContractVerified, r.MintRenounced, r.SupplyCapped, r.LiquidityLocked} {
		if ok {
			passed++
		}
	}
	return float64(passed) / 4.0
}

// TokenLaunch is a new-token listing event with its security report
// and an externally estimated volatility (fraction, e.g. 0.5 = 50%).
type TokenLaunch struct {
	Token      common.Address
	Pool       common.Address
	Security   SecurityReport
	Volatility float64
	Ts         time.Time
}

// MarketEvent is the tagged variant delivered by the feed. Exactly one
// of Swap/Launch is set, matching Kind.
type MarketEvent struct {
	Kind   EventKind
	Swap   *PendingSwap
	Launch *TokenLaunch
}

// GasContext is the network gas snapshot the scorer prices costs against.
type GasContext struct {
	PriceGwei     float64
	EthUSD        float64
	CongestionPct float64 // 0..100
}

// PoolState is a read-only liquidity snapshot. ReserveIn is the side
// the victim trade enters (quote units), ReserveOut the side it exits.
type PoolState struct {
	ReserveIn    float64
	ReserveOut   float64
	LiquidityUSD float64
	EthUSD       float64
}

// Price returns quote units per base unit implied by the reserves.
func (p PoolState) Price() float64 {
	if p.ReserveOut == 0 {
		return 0
	}
	return p.ReserveIn / p.ReserveOut
}

// WalletContext is the capital snapshot passed to the scorer for
// balance-relative sizing.
type WalletContext struct {
	AvailableUSD float64
}

// Opportunity is a scored candidate action. Immutable once produced;
// consumed at most once by the allocator in the cycle it was produced.
type Opportunity struct {
	Kind           OpportunityKind
	Subject        common.Address // pool for sandwiches, token for snipes
	SizeUSD        float64        // capital the dispatch would commit
	EntryPriceUSD  float64
	ImpactPct      float64
	GrossUSD       float64
	GasUSD         float64
	NetUSD         float64
	Risk           RiskLevel
	CompetitionPct float64
	GasSpikeRisk   bool
	Score          float64 // 0..100
	Ts             time.Time
}

type ExecRequest struct {
	Opp Opportunity
}

type ExecResult struct {
	Success     bool
	TxHash      string
	EntryPrice  float64
	Quantity    float64
	SlippagePct float64
}

// ExitEvent is handed back by a position monitor when exactly one exit
// rule fires; consumed for portfolio settlement and alerting.
type ExitEvent struct {
	PositionID  string
	Reason      CloseReason
	RealizedUSD float64
	Ts          time.Time
}
