// Package cache provides Redis-backed caching for API responses.
//
// The live telemetry window is kept in memory by the aggregator; the cache
// serves ad-hoc windows requested through the API, which would otherwise
// rescan the event store on every dashboard poll.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/control-plane/internal/telemetry"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

const (
	// Cache key prefixes
	keyPrefix = "pulse:cache:"
)

// Cache provides Redis-backed response caching.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a cache on an existing client.
func New(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger.With("component", "cache"),
	}
}

// Connect parses redisURL and verifies the connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, config.RedisConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Get retrieves a cached value. Returns nil if not found or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// GetJSON retrieves and unmarshals a cached JSON value.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals and stores a JSON value.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// =============================================================================
// TELEMETRY WINDOWS
// =============================================================================

// TelemetryKey names a window. The key includes the newest slot, so a
// cached window is never served after its buckets would have shifted.
func TelemetryKey(hours int, now time.Time) string {
	return fmt.Sprintf("telemetry:%d:%d", hours, now.UTC().Truncate(telemetry.BucketWidth(hours)).Unix())
}

// GetTelemetry returns a cached window, or nil on a miss. Errors are
// logged and treated as misses.
func (c *Cache) GetTelemetry(ctx context.Context, hours int, now time.Time) *types.TelemetryWindow {
	var w types.TelemetryWindow
	found, err := c.GetJSON(ctx, TelemetryKey(hours, now), &w)
	if err != nil {
		c.logger.Warn("telemetry cache read failed", "hours", hours, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return &w
}

// SetTelemetry caches a window for CacheTTLTelemetry.
func (c *Cache) SetTelemetry(ctx context.Context, w *types.TelemetryWindow, now time.Time) {
	if err := c.SetJSON(ctx, TelemetryKey(w.Hours, now), w, config.CacheTTLTelemetry); err != nil {
		c.logger.Warn("telemetry cache write failed", "hours", w.Hours, "error", err)
	}
}
