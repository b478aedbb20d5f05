package bridge

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"coldcall-bridge/pkg/logger"
	"coldcall-bridge/pkg/utils"
)

const slotsKey = "coldcall:sessions:slots"

// RedisSlots caps live sessions across all API instances with a shared
// redis counter. The TTL must exceed the longest a session can live so a
// crashed instance's slots expire instead of leaking forever.
type RedisSlots struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisSlots(rdb *redis.Client, limit int, ttl time.Duration) *RedisSlots {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisSlots{rdb: rdb, limit: limit, ttl: ttl}
}

func (r *RedisSlots) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, r.rdb, slotsKey, r.limit, r.ttl)
}

func (r *RedisSlots) Release(ctx context.Context) {
	if err := utils.ReleaseConcurrencyCap(ctx, r.rdb, slotsKey); err != nil {
		logger.From(ctx).Warn("session slot release failed", "error", err)
	}
}
