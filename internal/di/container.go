// Package di assembles the runtime dependency graph: configuration in,
// wired services and handlers out.
package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/iglaboq/shop/internal/notifications"
	"github.com/iglaboq/shop/internal/payments"
	"github.com/iglaboq/shop/internal/platform/config"
	"github.com/iglaboq/shop/internal/platform/idempotency"
	"github.com/iglaboq/shop/internal/platform/requestctx"
	"github.com/iglaboq/shop/internal/repositories/postgres"
	"github.com/iglaboq/shop/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout services.CheckoutService
	Webhook  services.WebhookService
	Orders   services.OrderService
	Catalog  services.CatalogService
	Notifier services.Notifier
}

// Container wires storage, the payment gateway, notification channels, and
// services for runtime use.
type Container struct {
	Config      config.Config
	Logger      *zap.Logger
	DB          *sql.DB
	Redis       *redis.Client
	Store       *postgres.Store
	Idempotency *idempotency.PostgresStore
	Gateway     *payments.YooKassaGateway
	Services    Services
}

// NewContainer constructs and initialises the runtime dependencies. The
// database schema is created on first start.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = requestctx.NoopLogger()
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	store, err := postgres.NewStore(db)
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("build postgres store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}

	idemStore, err := idempotency.NewPostgresStore(db)
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("build idempotency store: %w", err)
	}
	if err := idemStore.Init(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("init idempotency schema: %w", err)
	}

	gateway, err := payments.NewYooKassaGateway(payments.YooKassaConfig{
		ShopID:     cfg.Gateway.ShopID,
		SecretKey:  cfg.Gateway.SecretKey,
		BaseURL:    cfg.Gateway.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Gateway.Timeout},
		Logger:     eventLogger(logger),
	})
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("build payment gateway: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	notifier, err := buildNotifier(cfg, store, redisClient, logger)
	if err != nil {
		closeQuietly(db)
		return nil, err
	}

	svc, err := buildServices(cfg, store, gateway, notifier, logger)
	if err != nil {
		closeQuietly(db)
		return nil, err
	}
	svc.Notifier = notifier

	return &Container{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Redis:       redisClient,
		Store:       store,
		Idempotency: idemStore,
		Gateway:     gateway,
		Services:    svc,
	}, nil
}

// Close releases the database pool and cache connection.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func buildNotifier(cfg config.Config, store *postgres.Store, redisClient *redis.Client, logger *zap.Logger) (services.Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("build telegram bot: %w", err)
	}

	chat, err := notifications.NewTelegramSender(notifications.TelegramSenderDeps{
		Bot:    bot,
		Logger: eventLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("build telegram sender: %w", err)
	}

	deps := notifications.DispatcherDeps{
		Chat:   chat,
		Logger: eventLogger(logger),
	}

	if cfg.SMTP.Host != "" {
		client, err := buildMailClient(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("build mail client: %w", err)
		}
		mailer, err := notifications.NewSMTPMailer(client, cfg.SMTP.From)
		if err != nil {
			return nil, fmt.Errorf("build mailer: %w", err)
		}
		deps.Email = mailer
	}

	if redisClient != nil {
		covers, err := notifications.NewCoverCache(notifications.CoverCacheDeps{
			Store:    redisClient,
			Journals: store.Journals(),
			TTL:      cfg.Redis.CoverCacheTTL,
			Logger:   eventLogger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("build cover cache: %w", err)
		}
		deps.Covers = covers
	}

	notifier, err := notifications.NewDispatcher(deps)
	if err != nil {
		return nil, fmt.Errorf("build notifier: %w", err)
	}
	return notifier, nil
}

func buildMailClient(cfg config.SMTPConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return mail.NewClient(cfg.Host, opts...)
}

func buildServices(cfg config.Config, store *postgres.Store, gateway *payments.YooKassaGateway, notifier services.Notifier, logger *zap.Logger) (Services, error) {
	var svc Services

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Journals:    store.Journals(),
		Payments:    store.Payments(),
		Gateway:     gateway,
		ReturnURL:   cfg.Gateway.ReturnURL,
		Currency:    cfg.Gateway.Currency,
		AutoCapture: cfg.Gateway.AutoCapture,
		Logger:      eventLogger(logger),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	webhook, err := services.NewWebhookService(services.WebhookServiceDeps{
		Txns:     store.Txns(),
		Journals: store.Journals(),
		Orders:   store.Orders(),
		Gateway:  gateway,
		Notifier: notifier,
		Logger:   eventLogger(logger),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook service: %w", err)
	}
	svc.Webhook = webhook

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   store.Orders(),
		Journals: store.Journals(),
		Txns:     store.Txns(),
		Notifier: notifier,
		Logger:   eventLogger(logger),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Journals: store.Journals(),
		Logger:   eventLogger(logger),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	return svc, nil
}

// eventLogger adapts the zap logger to the event-style logging callback the
// service layer expects, preferring the request-scoped logger when present.
func eventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() && base != nil {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func closeQuietly(db *sql.DB) {
	_ = db.Close()
}
