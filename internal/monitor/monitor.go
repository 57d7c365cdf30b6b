package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/portfolio"
	"github.com/you/mev-bot/internal/types"
	"go.uber.org/zap"
)

// Feed serves the monitor's polled price and balance lookups. Both
// calls are bounded by the configured fetch timeout; a failure is a
// skipped tick, never an exit condition.
type Feed interface {
	Price(ctx context.Context, subject common.Address) (float64, error)
	Balance(ctx context.Context, subject common.Address) (float64, error)
}

// ExitFunc receives the single exit event a monitor produces.
type ExitFunc func(types.ExitEvent)

// Monitor runs one exit-rule state machine for one open position. The
// position leaves the OPEN state exactly once: the first satisfied
// rule, checked in fixed priority order (time limit, profit target,
// stop loss, trailing stop), wins and stops the poller for good.
type Monitor struct {
	cfg    *config.Config
	log    *zap.Logger
	pf     *portfolio.Portfolio
	feed   Feed
	onExit ExitFunc

	id       string
	subject  common.Address
	entryUSD float64
	openedAt time.Time

	lastValue float64

	stopOnce sync.Once
	exitOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg *config.Config, pos *portfolio.Position, pf *portfolio.Portfolio, feed Feed, onExit ExitFunc, log *zap.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		log:       log,
		pf:        pf,
		feed:      feed,
		onExit:    onExit,
		id:        pos.ID,
		subject:   pos.Subject,
		entryUSD:  pos.EntryUSD,
		openedAt:  pos.OpenedAt,
		lastValue: pos.EntryUSD,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the poll loop. The loop owns its ticker and exits
// when Stop is called or an exit rule fires.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop cancels the poller permanently. Safe to call more than once and
// from any goroutine; an already-fired exit is not re-triggered.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) loop() {
	t := time.NewTicker(m.cfg.PollInterval())
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			if done := m.tick(); done {
				return
			}
		}
	}
}

// tick runs one evaluation pass and reports whether monitoring is over.
func (m *Monitor) tick() bool {
	if time.Since(m.openedAt) > m.cfg.MaxHold() {
		m.exit(types.CloseTimeLimit, m.lastValue)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout())
	defer cancel()

	bal, err := m.feed.Balance(ctx, m.subject)
	if err != nil {
		m.log.Debug("balance fetch failed; skipping tick",
			zap.String("position", m.id), zap.Error(err))
		return false
	}
	if bal == 0 {
		// Liquidated externally; nothing left to exit.
		m.log.Warn("position balance is zero, stopping monitor without exit",
			zap.String("position", m.id))
		m.Stop()
		return true
	}

	px, err := m.feed.Price(ctx, m.subject)
	if err != nil {
		m.log.Debug("price fetch failed; skipping tick",
			zap.String("position", m.id), zap.Error(err))
		return false
	}

	current := bal * px
	hwm, open := m.pf.UpdateValue(m.id, current)
	if !open {
		// Closed through another path while we were polling.
		m.Stop()
		return true
	}
	m.lastValue = current

	mc := m.cfg.Monitor
	switch {
	case current >= m.entryUSD*mc.ProfitTargetPct/100.0:
		m.exit(types.CloseProfitTarget, current)
		return true
	case current <= m.entryUSD*(1.0-mc.StopLossPct/100.0):
		m.exit(types.CloseStopLoss, current)
		return true
	case current <= hwm*(1.0-mc.TrailingStopPct/100.0):
		m.exit(types.CloseTrailingStop, current)
		return true
	}
	return false
}

func (m *Monitor) exit(reason types.CloseReason, realizedUSD float64) {
	m.exitOnce.Do(func() {
		m.Stop()
		m.log.Info("position exit",
			zap.String("position", m.id),
			zap.String("reason", string(reason)),
			zap.Float64("realized_usd", realizedUSD),
		)
		m.onExit(types.ExitEvent{
			PositionID:  m.id,
			Reason:      reason,
			RealizedUSD: realizedUSD,
			Ts:          time.Now(),
		})
	})
}
