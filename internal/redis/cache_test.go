package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grass-leaderboard/internal/classifier"
	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) (*ClassificationCache, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewClassificationCacheWithClient(client, time.Hour, testLogger()), server
}

func countingClassifier(label string, err error, calls *int32) classifier.Classifier {
	return classifier.Func(func(ctx context.Context, image []byte) (string, error) {
		atomic.AddInt32(calls, 1)
		return label, err
	})
}

func TestWrapCachesDefinitiveLabels(t *testing.T) {
	cache, server := newTestCache(t)
	var calls int32
	wrapped := cache.Wrap(countingClassifier(domain.GrassYes, nil, &calls))

	image := []byte("grass photo")
	for i := 0; i < 3; i++ {
		label, err := wrapped.Classify(context.Background(), image)
		require.NoError(t, err)
		assert.Equal(t, domain.GrassYes, label)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, server.Keys(), 1)
	ttl := server.TTL(server.Keys()[0])
	assert.Equal(t, time.Hour, ttl)
}

func TestWrapSkipsFailureLabels(t *testing.T) {
	cache, server := newTestCache(t)
	var calls int32
	wrapped := cache.Wrap(countingClassifier(domain.AnalysisFailed, nil, &calls))

	for i := 0; i < 2; i++ {
		label, err := wrapped.Classify(context.Background(), []byte("blurry"))
		require.NoError(t, err)
		assert.Equal(t, domain.AnalysisFailed, label)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Empty(t, server.Keys())
}

func TestWrapPropagatesErrors(t *testing.T) {
	cache, server := newTestCache(t)
	var calls int32
	wrapped := cache.Wrap(countingClassifier("", errors.New("upstream down"), &calls))

	_, err := wrapped.Classify(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.Empty(t, server.Keys())
}

func TestWrapFallsThroughWhenRedisDown(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	defer client.Close()
	cache := NewClassificationCacheWithClient(client, time.Hour, testLogger())
	server.Close()

	var calls int32
	wrapped := cache.Wrap(countingClassifier(domain.GrassNo, nil, &calls))

	label, err := wrapped.Classify(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, domain.GrassNo, label)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewClassificationCacheConnects(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	cfg := config.DefaultConfig().Redis
	cfg.Addr = server.Addr()

	cache, err := NewClassificationCache(&cfg, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Ping(context.Background()))
}
