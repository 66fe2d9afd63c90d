// Package defaultengine RAGEngine 的参考实现：入库时解析、分块、
// 嵌入并写入向量，检索时嵌入查询后搜索，可选重排序。
package defaultengine

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/logger"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/engine/chunker"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/engine/parsers"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// Name 引擎注册使用的组件名
const Name = "default"

// Engine 默认 RAG 引擎
type Engine struct {
	rag.BaseEngine

	services rag.HostServices
	parsers  *parsers.Registry
	reranker Reranker
}

// New 创建默认引擎实例
func New(services rag.HostServices) *Engine {
	return &Engine{
		services: services,
		parsers:  parsers.NewRegistry(),
		reranker: NewSimpleReranker(),
	}
}

// Register 将默认引擎注册到组件注册表
func Register(registry *rag.Registry) error {
	return registry.RegisterEngine(Name, func(services rag.HostServices) (rag.RAGEngine, error) {
		return New(services), nil
	})
}

func (e *Engine) Kind() rag.ComponentKind { return rag.KindRAGEngine }

// Ingest 解析文件、分块、嵌入并写入绑定集合。部分写入后失败会
// 回滚该文档的向量，失败的入库在存储中不留痕迹。
func (e *Engine) Ingest(ctx context.Context, ic *rag.IngestionContext) (*rag.IngestionResult, error) {
	start := time.Now()

	var text string
	err := rag.WithFileStream(ctx, e.services, ic.FileObject.StoragePath, func(stream io.Reader) error {
		parsed, err := e.parsers.Parse(ic.FileObject.FileName, ic.FileObject.MimeType, stream)
		if err != nil {
			return err
		}
		text = parsed
		return nil
	})
	if err != nil {
		return e.failResult(ic, err), err
	}

	ck := chunker.New(ic.ChunkingStrategy.ChunkSize, ic.ChunkingStrategy.ChunkOverlap)
	var chunks []*chunker.Chunk
	if ic.ChunkingStrategy.Name == "fixed" {
		chunks = ck.SplitFixed(text)
	} else {
		chunks, err = ck.Split(text)
		if err != nil {
			err = rag.WrapError(rag.ErrChunking, err, fmt.Sprintf("document %q", ic.DocumentID))
			return e.failResult(ic, err), err
		}
	}
	if len(chunks) == 0 {
		err = rag.WrapError(rag.ErrChunking, nil, "document produced no chunks")
		return e.failResult(ic, err), err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := e.services.Embedder().EmbedDocuments(ctx, texts)
	if err != nil {
		err = rag.WrapHostService(err, "embed chunks")
		return e.failResult(ic, err), err
	}

	ids := make([]string, len(chunks))
	metadata := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		ids[i] = fmt.Sprintf("%s_chunk_%d", ic.DocumentID, chunk.Index)
		metadata[i] = map[string]any{
			"document_id":  ic.DocumentID,
			"chunk_index":  chunk.Index,
			"content":      chunk.Content,
			"content_hash": chunk.ContentHash,
			"token_count":  chunk.TokenCount,
			"file_name":    ic.FileObject.FileName,
		}
	}

	collectionID := e.services.CollectionID()
	if err := e.services.VectorStore().Upsert(ctx, collectionID, ids, vectors, metadata); err != nil {
		// 回滚已写入的分块，失败的入库不留痕迹
		if _, rollbackErr := e.services.VectorStore().Delete(ctx, collectionID, nil,
			map[string]any{"document_id": ic.DocumentID}); rollbackErr != nil {
			logger.WithContext(ctx).Error("回滚失败入库的分块失败",
				zap.String("document_id", ic.DocumentID), zap.Error(rollbackErr))
		}
		err = rag.WrapHostService(err, "upsert chunks")
		return e.failResult(ic, err), err
	}

	logger.WithContext(ctx).Info("文档入库完成",
		zap.String("document_id", ic.DocumentID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)))

	return &rag.IngestionResult{
		Status:     rag.IngestionSucceeded,
		DocumentID: ic.DocumentID,
		ChunkCount: len(chunks),
		Metadata: map[string]any{
			"elapsed_ms": time.Since(start).Milliseconds(),
			"file_name":  ic.FileObject.FileName,
		},
	}, nil
}

func (e *Engine) failResult(ic *rag.IngestionContext, err error) *rag.IngestionResult {
	return &rag.IngestionResult{
		Status:     rag.IngestionFailed,
		DocumentID: ic.DocumentID,
		Message:    err.Error(),
	}
}

// DeleteDocument 删除一个文档的全部分块。返回是否确实删除了
// 内容，因此删除未知文档是幂等的空操作。
func (e *Engine) DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) (bool, error) {
	removed, err := e.services.VectorStore().Delete(ctx, e.services.CollectionID(), nil,
		map[string]any{"document_id": documentID})
	if err != nil {
		return false, rag.WrapHostService(err, "delete document chunks")
	}
	return removed > 0, nil
}

// Retrieve 嵌入查询并搜索绑定集合，
// 按已校验的设置应用相似度阈值和可选的重排序
func (e *Engine) Retrieve(ctx context.Context, rc *rag.RetrievalContext) (*rag.RetrievalResponse, error) {
	start := time.Now()

	if rc.Query == "" {
		return nil, rag.WrapError(rag.ErrRetrieval, nil, "query is empty")
	}

	topK := rc.Settings.TopK(5)
	threshold := rc.Settings.SimilarityThreshold(0.0)
	rerank := rc.Settings.RerankEnabled()

	queryVector, err := e.services.Embedder().EmbedQuery(ctx, rc.Query)
	if err != nil {
		return nil, rag.WrapHostService(err, "embed query")
	}

	// rerank 时多召回一些候选再截断
	searchK := topK
	if rerank {
		searchK = topK * 3
	}

	hits, err := e.services.VectorStore().Search(ctx, e.services.CollectionID(), queryVector, searchK, nil)
	if err != nil {
		return nil, rag.WrapHostService(err, "vector search")
	}

	entries := make([]rag.RetrievalResultEntry, 0, len(hits))
	for _, hit := range hits {
		// 阈值为 0 表示不过滤
		if threshold > 0 && hit.Score < threshold {
			continue
		}
		entries = append(entries, rag.RetrievalResultEntry{
			ID:       hit.ID,
			Metadata: hit.Metadata,
			Score:    hit.Score,
			Distance: 1 - hit.Score,
		})
	}

	rerankApplied := false
	if rerank && len(entries) > 0 {
		reranked, err := e.reranker.Rerank(ctx, rc.Query, entries, topK)
		if err != nil {
			logger.WithContext(ctx).Warn("重排序失败，返回原始排序", zap.Error(err))
		} else {
			entries = reranked
			rerankApplied = true
		}
	}
	if len(entries) > topK {
		entries = entries[:topK]
	}

	return &rag.RetrievalResponse{
		Entries:       entries,
		Elapsed:       time.Since(start),
		RerankApplied: rerankApplied,
	}, nil
}
