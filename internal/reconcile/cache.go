package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache stores vectors by text. GetMany returns nil for misses, preserving order.
type EmbeddingCache interface {
	GetMany(ctx context.Context, texts []string) ([][]float32, error)
	SetMany(ctx context.Context, texts []string, vectors [][]float32) error
}

// CacheKey namespaces a text under the embedding model that produced its vector.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "esg:emb:" + model + ":" + hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding cache: corrupt vector of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

type memoryEntry struct {
	vec       []float32
	expiresAt time.Time
}

// MemoryCache is an in-process EmbeddingCache.
type MemoryCache struct {
	mu    sync.RWMutex
	model string
	ttl   time.Duration
	data  map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryCache returns an empty cache. A zero ttl never expires entries.
func NewMemoryCache(model string, ttl time.Duration) *MemoryCache {
	return &MemoryCache{model: model, ttl: ttl, data: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) GetMany(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][]float32, len(texts))
	now := c.now()
	for i, t := range texts {
		e, ok := c.data[CacheKey(c.model, t)]
		if !ok || (!e.expiresAt.IsZero() && now.After(e.expiresAt)) {
			continue
		}
		out[i] = e.vec
	}
	return out, nil
}

func (c *MemoryCache) SetMany(_ context.Context, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("embedding cache: %d texts for %d vectors", len(texts), len(vectors))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	for i, t := range texts {
		c.data[CacheKey(c.model, t)] = memoryEntry{vec: vectors[i], expiresAt: exp}
	}
	return nil
}

// RedisCache keeps vectors in Redis as little-endian float32 blobs.
type RedisCache struct {
	client *redis.Client
	model  string
	ttl    time.Duration
	log    *slog.Logger
}

// RedisOptions configures NewRedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Model    string
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: 10,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	logger.Info("reconcile.cache.redis_connected", "addr", opts.Addr, "db", opts.DB)
	return &RedisCache{client: client, model: opts.Model, ttl: opts.TTL, log: logger}, nil
}

func (c *RedisCache) GetMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = CacheKey(c.model, t)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(s))
		if err != nil {
			c.log.Warn("reconcile.cache.corrupt", "key", keys[i], "error", err)
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (c *RedisCache) SetMany(ctx context.Context, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("embedding cache: %d texts for %d vectors", len(texts), len(vectors))
	}
	if len(texts) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for i, t := range texts {
		pipe.Set(ctx, CacheKey(c.model, t), encodeVector(vectors[i]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
