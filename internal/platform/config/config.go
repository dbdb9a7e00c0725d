package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultGatewayBaseURL    = "https://api.yookassa.ru/v3"
	defaultGatewayTimeout    = 15 * time.Second
	defaultCurrency          = "RUB"
	defaultSMTPPort          = 587
	defaultRedisAddr         = "localhost:6379"
	defaultCoverCacheTTL     = time.Hour
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour

	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Gateway     GatewayConfig
	Telegram    TelegramConfig
	SMTP        SMTPConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig stores PostgreSQL connection parameters.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// GatewayConfig collects YooKassa credentials and checkout behaviour.
type GatewayConfig struct {
	ShopID      string
	SecretKey   string
	BaseURL     string
	Timeout     time.Duration
	ReturnURL   string
	Currency    string
	AutoCapture bool
}

// TelegramConfig stores Bot API credentials.
type TelegramConfig struct {
	BotToken string
}

// SMTPConfig stores outbound mail settings. Host left empty disables the
// email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// RedisConfig stores cache connection settings. Addr left empty disables the
// cover cache.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	CoverCacheTTL time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour. CleanupInterval
// set to zero disables the background sweep of expired keys.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "SHOP_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "SHOP_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "SHOP_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "SHOP_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:          stringWithDefault(lookup, "SHOP_DATABASE_URL", ""),
			MaxOpenConns: intWithDefault(lookup, "SHOP_DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: intWithDefault(lookup, "SHOP_DATABASE_MAX_IDLE_CONNS", 5),
		},
		Gateway: GatewayConfig{
			ShopID:      stringWithDefault(lookup, "SHOP_YOOKASSA_SHOP_ID", ""),
			SecretKey:   stringWithDefault(lookup, "SHOP_YOOKASSA_SECRET_KEY", ""),
			BaseURL:     stringWithDefault(lookup, "SHOP_YOOKASSA_BASE_URL", defaultGatewayBaseURL),
			Timeout:     durationWithDefault(lookup, "SHOP_YOOKASSA_TIMEOUT", defaultGatewayTimeout),
			ReturnURL:   stringWithDefault(lookup, "SHOP_CHECKOUT_RETURN_URL", ""),
			Currency:    stringWithDefault(lookup, "SHOP_CHECKOUT_CURRENCY", defaultCurrency),
			AutoCapture: boolWithDefault(lookup, "SHOP_CHECKOUT_AUTO_CAPTURE", false),
		},
		Telegram: TelegramConfig{
			BotToken: stringWithDefault(lookup, "SHOP_TELEGRAM_BOT_TOKEN", ""),
		},
		SMTP: SMTPConfig{
			Host:     stringWithDefault(lookup, "SHOP_SMTP_HOST", ""),
			Port:     intWithDefault(lookup, "SHOP_SMTP_PORT", defaultSMTPPort),
			Username: stringWithDefault(lookup, "SHOP_SMTP_USERNAME", ""),
			Password: stringWithDefault(lookup, "SHOP_SMTP_PASSWORD", ""),
			From:     stringWithDefault(lookup, "SHOP_SMTP_FROM", ""),
		},
		Redis: RedisConfig{
			Addr:          stringWithDefault(lookup, "SHOP_REDIS_ADDR", defaultRedisAddr),
			Password:      stringWithDefault(lookup, "SHOP_REDIS_PASSWORD", ""),
			DB:            intWithDefault(lookup, "SHOP_REDIS_DB", 0),
			CoverCacheTTL: durationWithDefault(lookup, "SHOP_REDIS_COVER_TTL", defaultCoverCacheTTL),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "SHOP_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "SHOP_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "SHOP_IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: intWithDefault(lookup, "SHOP_IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatchSize),
		},
	}

	// Resolve secrets when values reference an external store.
	secretFields := []*string{
		&cfg.Gateway.SecretKey,
		&cfg.Telegram.BotToken,
		&cfg.SMTP.Password,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	ref := strings.TrimSpace(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		missing = append(missing, "Database.URL")
	}
	if strings.TrimSpace(cfg.Gateway.ShopID) == "" {
		missing = append(missing, "Gateway.ShopID")
	}
	if strings.TrimSpace(cfg.Gateway.SecretKey) == "" {
		missing = append(missing, "Gateway.SecretKey")
	}
	if strings.TrimSpace(cfg.Gateway.ReturnURL) == "" {
		missing = append(missing, "Gateway.ReturnURL")
	}
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		missing = append(missing, "Telegram.BotToken")
	}
	if cfg.SMTP.Host != "" && strings.TrimSpace(cfg.SMTP.From) == "" {
		missing = append(missing, "SMTP.From")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "secret://")
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
