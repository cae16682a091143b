package filemanager

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisExecCache implements ExecCache against a Redis-compatible store,
// matching the "exec:meta:<id>" / "exec:file:<id>" key shapes from spec §3.
type RedisExecCache struct {
	client *redis.Client
}

// NewRedisExecCache builds a RedisExecCache.
func NewRedisExecCache(client *redis.Client) *RedisExecCache {
	return &RedisExecCache{client: client}
}

func execMetaKey(tempID string) string { return "exec:meta:" + tempID }
func execFileKey(tempID string) string { return "exec:file:" + tempID }

// GetExecMeta returns the JSON metadata stored for tempID, if present.
func (c *RedisExecCache) GetExecMeta(ctx context.Context, tempID string) (map[string]string, bool) {
	raw, err := c.client.Get(ctx, execMetaKey(tempID)).Bytes()
	if err != nil {
		return nil, false
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		slog.Warn("filemanager.exec_meta_decode_failed", "temp_id", tempID, "error", err)
		return nil, false
	}
	return meta, true
}

// GetExecFile returns the raw bytes stored for tempID, if present.
func (c *RedisExecCache) GetExecFile(ctx context.Context, tempID string) ([]byte, bool) {
	raw, err := c.client.Get(ctx, execFileKey(tempID)).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

// PutExecFile stores an exec-output artifact and its metadata, both under
// ttl. Called by the code-execution tool, not by Manager.
func (c *RedisExecCache) PutExecFile(ctx context.Context, tempID string, content []byte, meta map[string]string, ttl time.Duration) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, execMetaKey(tempID), metaJSON, ttl).Err(); err != nil {
		return err
	}
	return c.client.Set(ctx, execFileKey(tempID), content, ttl).Err()
}

// RedisByteCache implements ByteCache for downloaded file bytes, a bounded
// TTL'd tier distinct from the exec-output tier above.
type RedisByteCache struct {
	client *redis.Client
}

// NewRedisByteCache builds a RedisByteCache.
func NewRedisByteCache(client *redis.Client) *RedisByteCache {
	return &RedisByteCache{client: client}
}

// Get returns the cached bytes for key, if present.
func (c *RedisByteCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.client.Get(ctx, "bytes:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Set stores data under key with the given ttl.
func (c *RedisByteCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, "bytes:"+key, data, ttl).Err(); err != nil {
		slog.Warn("filemanager.byte_cache_set_failed", "key", key, "error", err)
	}
}
