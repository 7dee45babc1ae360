package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ashwalker/pairbot/internal/domain"
)

// defaultStreamMaxLen bounds the replay stream when no limit is configured.
// External monitors get a bounded replay window; anything older lives in the
// CSV archive.
const defaultStreamMaxLen int64 = 10000

// SignalBus publishes engine events over Redis: Pub/Sub for live fan-out to
// attached monitors, Streams for a bounded ordered replay log. The engine
// only writes; consumers attach with their own clients.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates a SignalBus backed by the given Client. A maxLen of
// zero or less uses the default stream bound.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish fans a payload out to every current subscriber of the channel.
// Delivery is fire-and-forget; a monitor that is not attached misses it.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend adds a payload to the replay stream. MAXLEN is approximate so
// trimming stays cheap under load.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}
