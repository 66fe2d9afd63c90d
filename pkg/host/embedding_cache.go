package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/metrics"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// EmbeddingCache 向量缓存：本地 sync.Map 作 L1，Redis 作 L2。
// redis 客户端可以为 nil，此时只使用本地缓存。
type EmbeddingCache struct {
	redis        *redis.Client
	localCache   sync.Map
	prefix       string
	ttl          time.Duration
	maxLocalSize int
	localCount   int64
	mu           sync.Mutex
}

type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建向量缓存
func NewEmbeddingCache(redisClient *redis.Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "emb:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:        redisClient,
		prefix:       prefix,
		ttl:          ttl,
		maxLocalSize: 10000,
	}
}

// Get 获取缓存的向量
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)
	if val, ok := c.localCache.Load(key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("local").Inc()
		return val.(*cachedEmbedding).Vector, true
	}
	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var cached cachedEmbedding
			if json.Unmarshal(data, &cached) == nil {
				c.setLocal(key, &cached)
				metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
				return cached.Vector, true
			}
		}
	}
	return nil, false
}

// Set 写入缓存
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) error {
	key := c.makeKey(text, model)
	cached := &cachedEmbedding{Vector: vector, Model: model, CreatedAt: time.Now()}
	c.setLocal(key, cached)
	if c.redis != nil {
		data, err := json.Marshal(cached)
		if err != nil {
			return err
		}
		return c.redis.Set(ctx, key, data, c.ttl).Err()
	}
	return nil
}

func (c *EmbeddingCache) makeKey(text, model string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16])
}

func (c *EmbeddingCache) setLocal(key string, cached *cachedEmbedding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localCount >= int64(c.maxLocalSize) {
		c.evictLocal()
	}
	c.localCache.Store(key, cached)
	c.localCount++
}

// evictLocal 本地缓存满时清理一半
func (c *EmbeddingCache) evictLocal() {
	count := 0
	c.localCache.Range(func(key, value any) bool {
		if count < c.maxLocalSize/2 {
			c.localCache.Delete(key)
			count++
			return true
		}
		return false
	})
	c.localCount -= int64(count)
}

// CachedEmbedder 带缓存的 rag.Embedder 装饰器。缓存键包含模型名，
// 换模型不会串缓存。
type CachedEmbedder struct {
	inner rag.Embedder
	cache *EmbeddingCache
	model string
}

// NewCachedEmbedder 包装 inner；model 作为缓存键的一部分。若 inner
// 实现了 Model() string 且 model 为空，则自动取其模型名。
func NewCachedEmbedder(inner rag.Embedder, cache *EmbeddingCache, model string) *CachedEmbedder {
	if model == "" {
		if named, ok := inner.(interface{ Model() string }); ok {
			model = named.Model()
		}
	}
	return &CachedEmbedder{inner: inner, cache: cache, model: model}
}

// EmbedQuery 单条向量化（带缓存）
func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(ctx, text, e.model); ok {
		return vec, nil
	}
	vec, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = e.cache.Set(ctx, text, e.model, vec)
	return vec, nil
}

// EmbedDocuments 批量向量化（带缓存）。只对未命中的文本调用底层
// embedder，最后按输入顺序合并，保持 index 对应关系。
func (e *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	cached := make(map[string][]float32)
	var missing []string
	seen := make(map[string]struct{})
	for _, text := range texts {
		if vec, ok := e.cache.Get(ctx, text, e.model); ok {
			cached[text] = vec
			continue
		}
		if _, dup := seen[text]; !dup {
			seen[text] = struct{}{}
			missing = append(missing, text)
		}
	}

	if len(missing) > 0 {
		vectors, err := e.inner.EmbedDocuments(ctx, missing)
		if err != nil {
			return nil, err
		}
		for i, text := range missing {
			cached[text] = vectors[i]
			_ = e.cache.Set(ctx, text, e.model, vectors[i])
		}
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = cached[text]
	}
	return result, nil
}

// Model 返回底层模型名
func (e *CachedEmbedder) Model() string { return e.model }
