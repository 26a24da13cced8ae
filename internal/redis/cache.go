package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grass-leaderboard/internal/classifier"
	"github.com/grass-leaderboard/internal/config"
)

// ClassificationCache stores grass verdicts keyed by image hash so that a
// photo submitted twice is only sent to the classifier once.
type ClassificationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewClassificationCache connects to Redis using the configured options
func NewClassificationCache(cfg *config.RedisConfig, logger *slog.Logger) (*ClassificationCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewClassificationCacheWithClient(client, cfg.CacheTTL, logger), nil
}

// NewClassificationCacheWithClient wraps an existing client
func NewClassificationCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ClassificationCache {
	return &ClassificationCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "classification_cache"),
	}
}

// Close closes the Redis connection
func (c *ClassificationCache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *ClassificationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// labelKey returns the Redis key for an image's verdict
func (c *ClassificationCache) labelKey(image []byte) string {
	sum := sha256.Sum256(image)
	return fmt.Sprintf("grass:classification:%s", hex.EncodeToString(sum[:]))
}

// Get returns the cached label for image, if any
func (c *ClassificationCache) Get(ctx context.Context, image []byte) (string, bool, error) {
	label, err := c.client.Get(ctx, c.labelKey(image)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting cached label: %w", err)
	}
	return label, true, nil
}

// Set stores the label for image
func (c *ClassificationCache) Set(ctx context.Context, image []byte, label string) error {
	if err := c.client.Set(ctx, c.labelKey(image), label, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching label: %w", err)
	}
	return nil
}

// Wrap returns a classifier that consults the cache before calling next.
// Only definitive verdicts are cached; cache failures fall through to next.
func (c *ClassificationCache) Wrap(next classifier.Classifier) classifier.Classifier {
	return classifier.Func(func(ctx context.Context, image []byte) (string, error) {
		label, ok, err := c.Get(ctx, image)
		if err != nil {
			c.logger.Warn("classification cache read failed", "error", err)
		}
		if ok {
			c.logger.Debug("classification cache hit", "label", label)
			return label, nil
		}

		label, err = next.Classify(ctx, image)
		if err != nil {
			return "", err
		}

		if classifier.IsDefinitive(label) {
			if err := c.Set(ctx, image, label); err != nil {
				c.logger.Warn("classification cache write failed", "error", err)
			}
		}
		return label, nil
	})
}
