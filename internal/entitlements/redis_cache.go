package entitlements

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PipelineClient is the minimal client surface used by RedisCache.
type PipelineClient interface {
	Pipeline() redis.Pipeliner
}

// RedisCache stores the latest entitlement per user and product in Redis and
// appends updates to a stream.
type RedisCache struct {
	client    PipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// NewRedisCache constructs a Redis-backed entitlement cache.
func NewRedisCache(client PipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisCache {
	if stream == "" {
		stream = "entitlement_events"
	}
	return &RedisCache{
		client:    client,
		stream:    stream,
		keyPrefix: "entitlement:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Put writes the latest entitlement and appends to the stream.
func (r *RedisCache) Put(ctx context.Context, ent Entitlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.keyPrefix + ent.UserID + ":" + ent.ProductID
	fields := map[string]any{
		"user_id":        ent.UserID,
		"product_id":     ent.ProductID,
		"transaction_id": ent.TransactionID,
		"source":         ent.Source,
	}
	if !ent.ExpiresAt.IsZero() {
		fields["expires_at"] = ent.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: fields,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}
