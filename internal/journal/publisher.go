package journal

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/you/mev-bot/internal/allocator"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/types"
)

// Publisher mirrors exit events and cycle results into redis so
// dashboards and alerting can consume them without touching the
// engine's process.
type Publisher struct {
	rdb    *redis.Client
	stream string
	snapNS string
}

func NewPublisher(cfg *config.Config) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Publisher{
		rdb:    rdb,
		stream: cfg.Redis.Stream,
		snapNS: cfg.Redis.SnapNS,
	}
}

// PublishExit appends the exit to the stream and keeps a per-position
// hash for quick lookup.
func (p *Publisher) PublishExit(ctx context.Context, ev types.ExitEvent) error {
	fields := map[string]interface{}{
		"position_id":  ev.PositionID,
		"reason":       string(ev.Reason),
		"realized_usd": ev.RealizedUSD,
		"ts_ms":        ev.Ts.UnixMilli(),
	}
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return err
	}
	return p.rdb.HSet(ctx, "position:exit:"+ev.PositionID, fields).Err()
}

// PublishCycle stores the latest cycle summary under a rolling key and
// indexes it by timestamp.
func (p *Publisher) PublishCycle(ctx context.Context, res allocator.CycleResult) error {
	key := p.snapNS + "latest"
	if err := p.rdb.HSet(ctx, key, map[string]interface{}{
		"considered":      res.Considered,
		"dispatched":      res.Dispatched,
		"skipped_score":   res.SkippedScore,
		"skipped_capital": res.SkippedCapital,
		"skipped_limits":  res.SkippedLimits,
		"failed":          res.Failed,
		"balance_usd":     res.Portfolio.BalanceUSD,
		"available_usd":   res.Portfolio.AvailableUSD,
		"open_positions":  res.Portfolio.OpenPositions,
		"realized_pnl":    res.Portfolio.RealizedPnLUSD,
		"win_rate":        res.Portfolio.WinRate,
		"elapsed_us":      res.Elapsed.Microseconds(),
		"ts_ms":           res.Ts.UnixMilli(),
	}).Err(); err != nil {
		return err
	}
	return p.rdb.ZAdd(ctx, "cycle:index", redis.Z{
		Score:  float64(res.Ts.UnixMilli()),
		Member: strconv.FormatInt(res.Ts.UnixMilli(), 10),
	}).Err()
}

func (p *Publisher) Close() error { return p.rdb.Close() }
