package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cache is the advisory durable store for in-progress content. Every
// operation degrades to a no-op when the backend is missing or failing: an
// editing session must stay fully usable with no durable storage at all, so
// failures are logged and swallowed rather than returned.
type Cache struct {
	backend Backend
	clock   func() time.Time
	logger  *zap.Logger
}

// Config carries the dependencies for New. A nil Backend produces a disabled
// cache whose operations warn once per call and do nothing.
type Config struct {
	Backend Backend
	Clock   func() time.Time
	Logger  *zap.Logger
}

// New constructs a Cache.
func New(cfg Config) *Cache {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		backend: cfg.Backend,
		clock:   clock,
		logger:  logger,
	}
}

// Save idempotently overwrites the record stored under key.
func (c *Cache) Save(ctx context.Context, key, draftID, content string) {
	if c.backend == nil {
		c.logger.Warn("autosave cache unavailable, skipping save", zap.String("key", key))
		return
	}
	record := Record{
		Key:         key,
		DraftID:     draftID,
		Content:     content,
		SavedAtUnix: c.clock().UTC().Unix(),
	}
	if err := c.backend.Put(ctx, record); err != nil {
		c.logger.Warn("autosave cache save failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Load returns the most recently saved record for key. The second return
// value reports whether a record was found; storage failures read as absent.
func (c *Cache) Load(ctx context.Context, key string) (Record, bool) {
	if c.backend == nil {
		return Record{}, false
	}
	record, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("autosave cache load failed",
			zap.String("key", key),
			zap.Error(err))
		return Record{}, false
	}
	return record, found
}

// Delete removes the record stored under key, best effort.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, key); err != nil {
		c.logger.Warn("autosave cache delete failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// ClearAll removes every stored record, best effort.
func (c *Cache) ClearAll(ctx context.Context) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Purge(ctx); err != nil {
		c.logger.Warn("autosave cache purge failed", zap.Error(err))
	}
}

// FormatTimestamp renders a stored timestamp relative to now, for the
// recovery prompt. Purely presentational.
func FormatTimestamp(ts, now time.Time) string {
	elapsed := now.Sub(ts)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < 2*time.Minute:
		return "a minute ago"
	case elapsed < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(elapsed.Minutes()))
	case elapsed < 2*time.Hour:
		return "an hour ago"
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(elapsed.Hours()))
	case elapsed < 48*time.Hour:
		return "yesterday"
	default:
		return ts.Format("2006-01-02 15:04")
	}
}
