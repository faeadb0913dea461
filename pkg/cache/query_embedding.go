// Package cache provides the Redis-backed cache for query embeddings.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/metrics"
)

// Redis key prefix for cached query vectors
const queryEmbeddingKeyPrefix = "sanctions:qemb:"

// QueryEmbeddingCache stores embeddings of search queries so repeated
// screenings of the same name skip the embedding API.
type QueryEmbeddingCache interface {
	Get(ctx context.Context, model, query string) ([]float32, bool, error)
	Set(ctx context.Context, model, query string, vector []float32) error
}

// RedisQueryEmbeddingCache is the Redis implementation of QueryEmbeddingCache.
type RedisQueryEmbeddingCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRedisQueryEmbeddingCache creates a cache on top of client. Entries expire after ttl;
// a zero ttl keeps them until evicted.
func NewRedisQueryEmbeddingCache(client *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *RedisQueryEmbeddingCache {
	return &RedisQueryEmbeddingCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.Named("query-cache"),
	}
}

var _ QueryEmbeddingCache = (*RedisQueryEmbeddingCache)(nil)

// Get returns the cached vector for query, if present.
func (c *RedisQueryEmbeddingCache) Get(ctx context.Context, model, query string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, queryKey(model, query)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.IncrementCacheLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		c.metrics.IncrementCacheLookup("error")
		return nil, false, fmt.Errorf("read query embedding: %w", err)
	}

	vector, err := decodeVector(raw)
	if err != nil {
		c.metrics.IncrementCacheLookup("error")
		c.logger.Warn("Discarding corrupt cached query embedding", zap.Error(err))
		return nil, false, nil
	}

	c.metrics.IncrementCacheLookup("hit")
	return vector, true, nil
}

// Set stores vector for query.
func (c *RedisQueryEmbeddingCache) Set(ctx context.Context, model, query string, vector []float32) error {
	if err := c.client.Set(ctx, queryKey(model, query), encodeVector(vector), c.ttl).Err(); err != nil {
		return fmt.Errorf("write query embedding: %w", err)
	}
	return nil
}

// queryKey hashes the model and the case-folded query so keys have a fixed
// length and raw screening queries never appear in Redis.
func queryKey(model, query string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return queryEmbeddingKeyPrefix + hex.EncodeToString(sum[:])
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding of %d bytes", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
