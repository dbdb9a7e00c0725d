package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iglaboq/shop/internal/di"
	"github.com/iglaboq/shop/internal/handlers"
	"github.com/iglaboq/shop/internal/platform/config"
	"github.com/iglaboq/shop/internal/platform/idempotency"
	"github.com/iglaboq/shop/internal/platform/observability"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("shop")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(resolveEnvSecret)),
	)
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to assemble dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := container.Idempotency.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	paymentHandlers, err := handlers.NewPaymentHandlers(handlers.PaymentHandlersDeps{
		Checkout: container.Services.Checkout,
		Webhook:  container.Services.Webhook,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment handlers", zap.Error(err))
	}
	orderHandlers, err := handlers.NewOrderHandlers(container.Services.Orders)
	if err != nil {
		logger.Fatal("failed to initialise order handlers", zap.Error(err))
	}
	catalogHandlers, err := handlers.NewCatalogHandlers(container.Services.Catalog)
	if err != nil {
		logger.Fatal("failed to initialise catalog handlers", zap.Error(err))
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithReadinessCheck("postgres", container.Store.Ping),
	}
	if container.Redis != nil {
		redisClient := container.Redis
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPaymentHandlers(paymentHandlers),
		handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("shop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// resolveEnvSecret maps secret://NAME references onto environment variables,
// letting deployments keep credentials out of the regular SHOP_* keys.
func resolveEnvSecret(_ context.Context, ref string) (string, error) {
	value, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("secret %q not present in environment", ref)
	}
	return value, nil
}
