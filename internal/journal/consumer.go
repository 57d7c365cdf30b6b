package journal

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/types"
)

// Consumer reads exit events back out of redis. Used by the alerting
// side and by tests to verify what the engine published.
type Consumer struct {
	rdb    *redis.Client
	stream string
}

func NewConsumer(cfg *config.Config) *Consumer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Consumer{rdb: rdb, stream: cfg.Redis.Stream}
}

// ReadExit fetches the stored exit hash for one position.
func (c *Consumer) ReadExit(ctx context.Context, positionID string) (types.ExitEvent, error) {
	m, err := c.rdb.HGetAll(ctx, "position:exit:"+positionID).Result()
	if err != nil {
		return types.ExitEvent{}, err
	}
	if len(m) == 0 {
		return types.ExitEvent{}, redis.Nil
	}
	return exitFromMap(m), nil
}

// StreamConsumeExits reads exit events through a consumer group.
// Create the group once:  XGROUP CREATE <stream> alerts $ MKSTREAM
func (c *Consumer) StreamConsumeExits(ctx context.Context, group, consumer string, out chan<- types.ExitEvent) error {
	for {
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    200,
			Block:    time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				ev := exitFromValues(m.Values)
				if ev.PositionID != "" {
					out <- ev
				}
				_ = c.rdb.XAck(ctx, c.stream, group, m.ID).Err()
			}
		}
	}
}

func (c *Consumer) Close() error { return c.rdb.Close() }

func exitFromMap(m map[string]string) types.ExitEvent {
	ev := types.ExitEvent{
		PositionID: m["position_id"],
		Reason:     types.CloseReason(m["reason"]),
	}
	if v, err := strconv.ParseFloat(m["realized_usd"], 64); err == nil {
		ev.RealizedUSD = v
	}
	if v, err := strconv.ParseInt(m["ts_ms"], 10, 64); err == nil {
		ev.Ts = time.UnixMilli(v)
	}
	return ev
}

func exitFromValues(values map[string]interface{}) types.ExitEvent {
	m := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	return exitFromMap(m)
}
