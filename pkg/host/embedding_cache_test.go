package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// countingEmbedder 记录底层调用次数的确定性 embedder
type countingEmbedder struct {
	inner      rag.Embedder
	queryCalls int
	batchCalls int
	batchTexts [][]string
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	c.batchTexts = append(c.batchTexts, texts)
	return c.inner.EmbedDocuments(ctx, texts)
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.queryCalls++
	return c.inner.EmbedQuery(ctx, text)
}

func (c *countingEmbedder) Model() string { return "counting-model" }

func TestEmbeddingCacheLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache(nil, "test:", time.Minute)

	_, ok := cache.Get(ctx, "hello", "m1")
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, "hello", "m1", []float32{1, 2, 3}))

	vec, ok := cache.Get(ctx, "hello", "m1")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, vec)

	// 模型名参与缓存键，换模型不命中
	_, ok = cache.Get(ctx, "hello", "m2")
	require.False(t, ok)
}

func TestCachedEmbedderQuery(t *testing.T) {
	ctx := context.Background()
	counting := &countingEmbedder{inner: NewHashEmbedder(16)}
	embedder := NewCachedEmbedder(counting, NewEmbeddingCache(nil, "test:", time.Minute), "")

	// 模型名自动探测自底层 embedder
	require.Equal(t, "counting-model", embedder.Model())

	v1, err := embedder.EmbedQuery(ctx, "query text")
	require.NoError(t, err)
	require.Equal(t, 1, counting.queryCalls)

	v2, err := embedder.EmbedQuery(ctx, "query text")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, counting.queryCalls, "second call must hit the cache")
}

func TestCachedEmbedderBatchOnlyEmbedsMisses(t *testing.T) {
	ctx := context.Background()
	counting := &countingEmbedder{inner: NewHashEmbedder(16)}
	cache := NewEmbeddingCache(nil, "test:", time.Minute)
	embedder := NewCachedEmbedder(counting, cache, "m1")

	hash := NewHashEmbedder(16)
	warm, err := hash.EmbedQuery(ctx, "warm")
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, "warm", "m1", warm))

	vectors, err := embedder.EmbedDocuments(ctx, []string{"warm", "cold", "cold", "warm"})
	require.NoError(t, err)
	require.Len(t, vectors, 4)

	// 只有未命中的去重文本传给底层
	require.Equal(t, 1, counting.batchCalls)
	require.Equal(t, []string{"cold"}, counting.batchTexts[0])

	// 输出按输入顺序合并
	require.Equal(t, warm, vectors[0])
	require.Equal(t, vectors[1], vectors[2])
	require.Equal(t, warm, vectors[3])

	// 第二轮全部命中
	_, err = embedder.EmbedDocuments(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Equal(t, 1, counting.batchCalls)
}
