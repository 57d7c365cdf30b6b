package types

import "errors"

// All errors below are local to one opportunity or one monitor tick and
// never abort a cycle. ErrNotStarted is the exception: it halts the
// cycle and is surfaced to the caller.
var (
	ErrValidation            = errors.New("invalid event input")
	ErrInsufficientLiquidity = errors.New("pool liquidity below floor")
	ErrInsufficientCapital   = errors.New("insufficient available capital")
	ErrSecurityCheck         = errors.New("token failed security checks")
	ErrExecution             = errors.New("execution failed")
	ErrStaleData             = errors.New("market data unavailable")
	ErrNotStarted            = errors.New("orchestrator not started")
)
