package host

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/metrics"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// OpenAIEmbedder 基于 OpenAI Embeddings API 的 rag.Embedder 实现。
// 批量调用对调用方是原子的：任一元素失败则整批失败。
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// OpenAIEmbedderOptions OpenAI embedder 配置
type OpenAIEmbedderOptions struct {
	APIKey  string
	BaseURL string // 可选，兼容自建网关
	Model   string // 默认 text-embedding-3-small
}

// NewOpenAIEmbedder 创建 OpenAI embedder
func NewOpenAIEmbedder(opts OpenAIEmbedderOptions) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// openaiMaxBatch OpenAI API 单次请求最多 2048 个输入
const openaiMaxBatch = 2048

// EmbedDocuments 批量向量化，输出顺序与长度和输入一一对应
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openaiMaxBatch {
		end := start + openaiMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, rag.WrapError(rag.ErrEmbedding, err, fmt.Sprintf("batch %d-%d", start, end))
		}
		all = append(all, batch...)
	}
	return all, nil
}

// EmbedQuery 单条查询向量化
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, rag.WrapError(rag.ErrEmbedding, nil, "query text is empty")
	}
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, rag.WrapError(rag.ErrEmbedding, err, "embed query")
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "error").Inc()
		return nil, fmt.Errorf("call embeddings API: %w", err)
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "success").Inc()
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	// API 可能乱序返回，按 Index 归位保证 index-to-index 对应
	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("embeddings API returned no vector for input %d", i)
		}
	}
	return vectors, nil
}

// Model 返回当前使用的模型名
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimension 返回向量维度
func (e *OpenAIEmbedder) Dimension() int {
	switch e.model {
	case string(openai.LargeEmbedding3):
		return 3072
	case string(openai.SmallEmbedding3), string(openai.AdaEmbeddingV2):
		return 1536
	default:
		return 1536
	}
}
