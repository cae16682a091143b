package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache is the Ledger's balance cache-aside tier. Keys follow the
// "user:{id}:balance" key-space named in spec §6.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps client with the given entry TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func balanceKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":balance"
}

// GetBalance returns the cached balance, if present and parseable.
func (c *RedisCache) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, bool) {
	val, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if err != nil {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// SetBalance writes the freshly computed balance into the cache. Charges
// call this directly (never Invalidate) so the cache stays warm across the
// hot path of repeated charges for an active conversation.
func (c *RedisCache) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) {
	if err := c.client.Set(ctx, balanceKey(userID), balance.String(), c.ttl).Err(); err != nil {
		slog.Warn("ledger.cache_set_failed", "user_id", userID, "error", err)
	}
}

// Invalidate drops the cached balance, forcing the next GetBalance to read
// through to Postgres. Used only for admin corrections outside the normal
// charge/credit paths.
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) {
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		slog.Warn("ledger.cache_invalidate_failed", "user_id", userID, "error", err)
	}
}
