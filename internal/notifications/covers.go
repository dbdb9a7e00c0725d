package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iglaboq/shop/internal/repositories"
)

// coverStore is the slice of the redis client the cache uses.
type coverStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CoverCache resolves journal cover URLs through redis, falling back to the
// catalog on a miss. Cache failures degrade to catalog reads.
type CoverCache struct {
	store    coverStore
	journals repositories.JournalRepository
	ttl      time.Duration
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// CoverCacheDeps wires the dependencies for a CoverCache.
type CoverCacheDeps struct {
	Store    coverStore
	Journals repositories.JournalRepository
	TTL      time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCoverCache constructs a CoverCache validating required dependencies.
func NewCoverCache(deps CoverCacheDeps) (*CoverCache, error) {
	if deps.Journals == nil {
		return nil, errors.New("notifications: journal repository is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CoverCache{
		store:    deps.Store,
		journals: deps.Journals,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

// CoverURL returns the cover image URL for the journal, or "" when the
// journal has no cover.
func (c *CoverCache) CoverURL(ctx context.Context, journalID int64) (string, error) {
	key := coverKey(journalID)

	if c.store != nil {
		cover, err := c.store.Get(ctx, key).Result()
		if err == nil {
			return cover, nil
		}
		if !errors.Is(err, redis.Nil) {
			c.logger(ctx, "covers.cache_read_failed", map[string]any{
				"journalId": journalID,
				"error":     err.Error(),
			})
		}
	}

	journal, err := c.journals.FindByID(ctx, journalID)
	if err != nil {
		return "", fmt.Errorf("load journal %d: %w", journalID, err)
	}

	if c.store != nil && journal.CoverURL != "" {
		if err := c.store.Set(ctx, key, journal.CoverURL, c.ttl).Err(); err != nil {
			c.logger(ctx, "covers.cache_write_failed", map[string]any{
				"journalId": journalID,
				"error":     err.Error(),
			})
		}
	}
	return journal.CoverURL, nil
}

func coverKey(journalID int64) string {
	return fmt.Sprintf("journal:cover:%d", journalID)
}
