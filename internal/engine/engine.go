package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/mev-bot/internal/allocator"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/execution"
	"github.com/you/mev-bot/internal/feed"
	"github.com/you/mev-bot/internal/journal"
	"github.com/you/mev-bot/internal/metrics"
	"github.com/you/mev-bot/internal/monitor"
	"github.com/you/mev-bot/internal/portfolio"
	"github.com/you/mev-bot/internal/risk"
	"github.com/you/mev-bot/internal/scorer"
	"github.com/you/mev-bot/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Engine owns the application lifecycle: stream intake, parallel
// scoring, serialized allocation cycles, and one monitor per open
// position.
type Engine struct {
	cfg    *config.Config
	log    *zap.Logger
	pf     *portfolio.Portfolio
	sc     *scorer.Scorer
	alloc  *allocator.Allocator
	quotes monitor.Feed
	paper  *execution.Paper
	pub    *journal.Publisher
}

func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	e := &Engine{
		cfg: cfg,
		log: log,
		pf:  portfolio.New(cfg.Portfolio.InitialBalanceUSD),
		sc:  scorer.New(cfg),
	}

	var exec execution.Executor
	if cfg.DryRun {
		p := execution.NewPaper(10, 0, log)
		e.paper = p
		e.quotes = p
		exec = p
	} else {
		ch, err := execution.NewChain(cfg, log)
		if err != nil {
			return nil, err
		}
		e.quotes = ch
		exec = ch
	}

	limits := risk.NewEngine(cfg)
	e.alloc = allocator.New(cfg, e.pf, exec, limits, e.spawnMonitor, log)

	if cfg.Redis.Addr != "" {
		e.pub = journal.NewPublisher(cfg)
	}
	return e, nil
}

func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		e.log.Warn("received signal, shutting down...")
		cancel()
	}()

	ws := feed.NewWS(e.cfg.Feed.WsURL)
	updates, err := ws.Subscribe(ctx)
	if err != nil {
		e.log.Fatal("failed to subscribe to event stream", zap.Error(err))
	}
	e.log.Info("subscribed to event stream", zap.String("url", e.cfg.Feed.WsURL))

	cache := feed.NewCache()
	evCh := make(chan types.MarketEvent, 1024)
	go route(ctx, updates, cache, evCh, e.log)

	bootstrap := time.Duration(e.cfg.Timings.BootstrapMs) * time.Millisecond
	if !waitMarketBootstrap(ctx, cache, bootstrap) {
		e.log.Warn("no gas context after bootstrap window; scoring will skip events until one arrives")
	} else {
		e.log.Info("market context ready")
	}

	oppCh := make(chan types.Opportunity, 1024)
	for i := 0; i < e.cfg.Timings.ScoreWorkers; i++ {
		go e.scoreWorker(ctx, evCh, cache, oppCh)
	}

	if e.cfg.DryRun {
		e.log.Warn("DRY-RUN: fills are simulated, no transactions will be sent")
	}

	e.alloc.Start()
	e.cycleLoop(ctx, oppCh)

	e.alloc.Stop()
	e.log.Info("engine finished")
}

// route fans stream updates out: context updates land in the cache,
// candidate events go to the scoring workers.
func route(ctx context.Context, in <-chan feed.Update, cache *feed.Cache, evCh chan<- types.MarketEvent, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				log.Warn("event stream closed")
				return
			}
			switch {
			case u.Gas != nil:
				cache.SetGas(*u.Gas)
			case u.Pool != nil:
				cache.SetPool(u.Pool.Addr, u.Pool.State)
			case u.Event != nil:
				select {
				case evCh <- *u.Event:
				default:
					log.Warn("event channel full; dropping event")
				}
			}
		}
	}
}

// scoreWorker evaluates events independently; the scorer is pure, so
// any number of workers may run without coordination.
func (e *Engine) scoreWorker(ctx context.Context, evCh <-chan types.MarketEvent, cache *feed.Cache, oppCh chan<- types.Opportunity) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-evCh:
			gas, ok := cache.Gas()
			if !ok {
				metrics.ScoreErrors.Inc()
				continue
			}
			pool, err := cache.Pool(subjectPool(ev))
			if err != nil {
				metrics.ScoreErrors.Inc()
				e.log.Debug("no pool snapshot for event", zap.Error(err))
				continue
			}
			wallet := types.WalletContext{AvailableUSD: e.pf.AvailableCapital()}

			opp, err := e.sc.Score(ev, gas, pool, wallet)
			if err != nil {
				metrics.ScoreErrors.Inc()
				e.log.Debug("event rejected", zap.String("kind", string(ev.Kind)), zap.Error(err))
				continue
			}
			select {
			case oppCh <- opp:
			default:
				e.log.Warn("opportunity channel full; dropping")
			}
		}
	}
}

func subjectPool(ev types.MarketEvent) (addr common.Address) {
	switch ev.Kind {
	case types.EventPendingSwap:
		if ev.Swap != nil {
			return ev.Swap.Pool
		}
	case types.EventTokenLaunch:
		if ev.Launch != nil {
			return ev.Launch.Pool
		}
	}
	return
}

// cycleLoop drains scored opportunities into a batch and runs one
// allocator cycle per tick. Cycles never overlap: the next tick is not
// serviced until RunCycle returns.
func (e *Engine) cycleLoop(ctx context.Context, oppCh <-chan types.Opportunity) {
	t := time.NewTicker(e.cfg.CycleTick())
	defer t.Stop()

	batch := make([]types.Opportunity, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-oppCh:
			batch = append(batch, opp)
		case <-t.C:
			if len(batch) == 0 {
				continue
			}
			res, err := e.alloc.RunCycle(ctx, batch)
			batch = batch[:0]
			if err != nil {
				e.log.Error("cycle aborted", zap.Error(err))
				continue
			}
			e.recordCycle(ctx, res)
		}
	}
}

func (e *Engine) recordCycle(ctx context.Context, res allocator.CycleResult) {
	metrics.CycleLatency.Observe(res.Elapsed.Seconds())
	metrics.OppsConsidered.Add(float64(res.Considered))
	metrics.OppsDispatched.Add(float64(res.Dispatched))
	metrics.OppsSkipped.WithLabelValues("score").Add(float64(res.SkippedScore))
	metrics.OppsSkipped.WithLabelValues("capital").Add(float64(res.SkippedCapital))
	metrics.OppsSkipped.WithLabelValues("limits").Add(float64(res.SkippedLimits))
	metrics.OpenPositions.Set(float64(res.Portfolio.OpenPositions))

	e.log.Info("cycle complete",
		zap.Int("considered", res.Considered),
		zap.Int("dispatched", res.Dispatched),
		zap.Int("skipped_capital", res.SkippedCapital),
		zap.Int("failed", res.Failed),
		zap.Float64("available_usd", res.Portfolio.AvailableUSD),
		zap.Duration("elapsed", res.Elapsed),
	)
	if e.pub != nil {
		if err := e.pub.PublishCycle(ctx, res); err != nil {
			e.log.Warn("cycle publish failed", zap.Error(err))
		}
	}
}

func (e *Engine) spawnMonitor(pos *portfolio.Position) {
	subject := pos.Subject
	onExit := func(ev types.ExitEvent) {
		e.alloc.OnExit(ev)
		if e.paper != nil {
			e.paper.Liquidate(subject)
		}
		metrics.Exits.WithLabelValues(string(ev.Reason)).Inc()
		metrics.OpenPositions.Set(float64(e.pf.OpenCount()))
		if e.pub != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.pub.PublishExit(ctx, ev); err != nil {
				e.log.Warn("exit publish failed", zap.Error(err))
			}
		}
	}
	monitor.New(e.cfg, pos, e.pf, e.quotes, onExit, e.log).Start()
	metrics.OpenPositions.Set(float64(e.pf.OpenCount()))
}

func waitMarketBootstrap(ctx context.Context, cache *feed.Cache, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if cache.Ready() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return cache.Ready()
		case <-tick.C:
		}
	}
}

func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}
