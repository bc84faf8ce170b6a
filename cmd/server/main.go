package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"storegate/cmd/server/config"
	"storegate/internal/api"
	"storegate/internal/entitlements"
	"storegate/internal/observability"
	"storegate/internal/offercodes"
	"storegate/internal/paywall"
	"storegate/internal/purchase"
	"storegate/internal/realtime"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	storeCfg, err := config.LoadStoreAPI()
	if err != nil {
		return err
	}
	redisCfg, err := config.LoadRedis()
	if err != nil {
		return err
	}
	entCfg, err := config.LoadEntitlements()
	if err != nil {
		return err
	}
	obsCfg, err := config.LoadObservability()
	if err != nil {
		return err
	}
	databaseURL, err := config.GetDatabaseURL()
	if err != nil {
		return err
	}

	redisClient, closeRedis, err := buildRedisClient(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	ledgerStore, closeLedger, err := buildLedgerStore(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer closeLedger()

	storeClient, verifier, err := buildStoreStack(storeCfg, logger)
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	cache := entitlements.NewRedisCache(redisClient, redisCfg.Stream, redisCfg.EntitlementTTL, redisCfg.StreamMaxLen)
	backend := buildEntitlementBackend(entCfg, logger)
	entitlementService := entitlements.NewService(backend, cache, realtime.NewEntitlementNotifier(hub, logger), logger)

	coordinator := purchase.NewCoordinator(storeClient, verifier, logger)
	purchaseService := purchase.NewService(coordinator, ledgerStore, entitlementService, logger)

	redeemer := offercodes.NewRedeemer(redisClient, redisCfg.OfferCodeTTL)

	var catalog *paywall.Catalog
	if httpCfg.PaywallDir != "" {
		catalog, err = paywall.LoadCatalog(httpCfg.PaywallDir)
		if err != nil {
			return err
		}
		logger.Info("paywall catalog loaded",
			zap.String("dir", httpCfg.PaywallDir),
			zap.Int("documents", catalog.Len()))
	}

	metrics := observability.NewMetrics()
	limiter := newHTTPRateLimiter(httpCfg.RateLimitInterval, httpCfg.RateLimitBurst, metrics.AddRateLimitWait)

	apiServer := api.NewServer(
		api.Config{GracePeriod: httpCfg.GracePeriod},
		purchaseService,
		redeemer,
		entitlementService,
		ledgerStore,
		catalog,
		hub,
		metrics,
		logger,
	)

	srv := &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           withIngressMiddleware(apiServer, limiter, metrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	obsSrv := startObservabilityServer(obsCfg, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", zap.String("addr", httpCfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api shutdown", zap.Error(err))
		}
		if obsSrv != nil {
			obsCtx, cancelObs := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelObs()
			_ = obsSrv.Shutdown(obsCtx)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func startObservabilityServer(cfg config.ObservabilityConfig, metrics *observability.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("observability server error", zap.Error(err))
		}
	}()
	return srv
}
