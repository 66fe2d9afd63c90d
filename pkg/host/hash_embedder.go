package host

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// HashEmbedder 是确定性的本地 embedder：同一文本永远得到同一向量。
// 没有任何语义，只用于离线环境、演示和测试。
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder 创建指定维度的 hash embedder
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 128
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, rag.WrapError(rag.ErrEmbedding, nil, "query text is empty")
	}
	return e.embed(text), nil
}

func (e *HashEmbedder) Model() string  { return "hash-embedder" }
func (e *HashEmbedder) Dimension() int { return e.dimension }

// embed 以 sha256 级联扩展出定长向量并做 L2 归一化
func (e *HashEmbedder) embed(text string) []float32 {
	vector := make([]float32, e.dimension)
	digest := sha256.Sum256([]byte(text))
	var norm float64
	for i := 0; i < e.dimension; i++ {
		if i > 0 && i%8 == 0 {
			digest = sha256.Sum256(digest[:])
		}
		bits := binary.BigEndian.Uint32(digest[(i%8)*4 : (i%8)*4+4])
		v := float32(bits%2000)/1000.0 - 1.0
		vector[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}
