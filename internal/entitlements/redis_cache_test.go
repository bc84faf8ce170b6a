package entitlements

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestRedisCache_PutWritesHashAndStream(t *testing.T) {
	client := newTestRedis(t)
	cache := NewRedisCache(client, "entitlement_events", time.Minute, 100)

	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ent := Entitlement{
		UserID:        "user-1",
		ProductID:     "pro.monthly",
		TransactionID: "tx-1",
		ExpiresAt:     expiry,
		Source:        SourceStore,
	}
	if err := cache.Put(context.Background(), ent); err != nil {
		t.Fatalf("put: %v", err)
	}

	fields, err := client.HGetAll(context.Background(), "entitlement:user-1:pro.monthly").Result()
	if err != nil {
		t.Fatalf("hgetall: %v", err)
	}
	if fields["transaction_id"] != "tx-1" || fields["source"] != SourceStore {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["expires_at"] != expiry.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected expiry: %q", fields["expires_at"])
	}

	ttl, err := client.TTL(context.Background(), "entitlement:user-1:pro.monthly").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("expected a TTL, got %v", ttl)
	}

	entries, err := client.XRange(context.Background(), "entitlement_events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(entries))
	}
	if entries[0].Values["product_id"] != "pro.monthly" {
		t.Fatalf("unexpected stream entry: %v", entries[0].Values)
	}
}

func TestRedisCache_PutWithoutExpiryOmitsField(t *testing.T) {
	client := newTestRedis(t)
	cache := NewRedisCache(client, "", 0, 0)

	ent := Entitlement{UserID: "user-1", ProductID: "pro.lifetime", Source: SourceOfferCode}
	if err := cache.Put(context.Background(), ent); err != nil {
		t.Fatalf("put: %v", err)
	}

	fields, err := client.HGetAll(context.Background(), "entitlement:user-1:pro.lifetime").Result()
	if err != nil {
		t.Fatalf("hgetall: %v", err)
	}
	if _, ok := fields["expires_at"]; ok {
		t.Fatalf("expected no expires_at field, got %v", fields)
	}

	// Default stream name applies when none is configured.
	entries, err := client.XRange(context.Background(), "entitlement_events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(entries))
	}
}

func TestRedisCache_PutCancelledContext(t *testing.T) {
	client := newTestRedis(t)
	cache := NewRedisCache(client, "", time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cache.Put(ctx, Entitlement{UserID: "u", ProductID: "p"}); err == nil {
		t.Fatalf("expected context error")
	}
}
