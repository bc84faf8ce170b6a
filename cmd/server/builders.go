package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storegate/cmd/server/config"
	"storegate/internal/db/ledger"
	"storegate/internal/entitlements"
	"storegate/internal/storekit"
)

var openLedgerDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

func buildRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, func(), error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

func buildLedgerStore(ctx context.Context, databaseURL string) (*ledger.PurchaseStore, func(), error) {
	db, err := openLedgerDB("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger db: %w", err)
	}
	store, err := ledger.NewPurchaseStoreWithSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init ledger schema: %w", err)
	}
	cleanup := func() {
		_ = db.Close()
	}
	return store, cleanup, nil
}

func buildStoreStack(cfg config.StoreAPIConfig, logger *zap.Logger) (*storekit.Client, *storekit.JWSVerifier, error) {
	verifier, err := storekit.NewJWSVerifierFromPEMFile(cfg.SigningKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load store signing key: %w", err)
	}
	client := storekit.NewClient(storekit.Config{
		PurchaseURL:        cfg.PurchaseURL,
		SandboxPurchaseURL: cfg.SandboxPurchaseURL,
		FinishURL:          cfg.FinishURL,
		SharedSecret:       cfg.SharedSecret,
		Timeout:            cfg.Timeout,
	}, logger)
	return client, verifier, nil
}

// buildEntitlementBackend picks the HTTP backend when a sync URL is set,
// falling back to the in-memory backend for local development, and wraps it
// with retry, circuit breaking, and rate limiting.
func buildEntitlementBackend(cfg config.EntitlementsConfig, logger *zap.Logger) entitlements.BackendClient {
	var base entitlements.BackendClient
	if cfg.SyncURL != "" {
		base = entitlements.NewHTTPBackendClient(cfg.SyncURL, cfg.RevokeURL, cfg.RequestTimeout)
	} else {
		logger.Warn("no entitlement sync url configured, using in-memory backend")
		base = entitlements.NewInMemoryBackendClient()
	}

	var limiter *entitlements.RateLimiter
	if cfg.RateInterval > 0 && cfg.RateBurst > 0 {
		limiter = entitlements.NewRateLimiter(cfg.RateInterval, cfg.RateBurst)
	}
	breaker := entitlements.NewCircuitBreaker(entitlements.CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerCooldown,
	})
	retry := entitlements.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	return entitlements.NewReliableBackendClient(base, limiter, breaker, retry)
}
