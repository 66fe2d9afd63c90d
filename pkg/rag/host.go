package rag

import (
	"context"
	"io"
)

// Embedder 宿主代插件生成嵌入向量。两个方法对调用方都是原子的：
// 一个批次要么全部成功，要么整体以 ErrEmbedding 失败；
// EmbedDocuments 的输出与输入逐下标对应、长度一致。
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchHit 向量搜索的单条结果
type SearchHit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorStore 宿主提供的向量存储能力。
//
// 本 SDK 所有实现遵循同一约定：Score 为余弦相似度，越大越相似，
// Search 按 Score 降序返回。向量 id 按集合隔离、集合内唯一，
// 对已存在的 id 执行 upsert 为原地更新。
//
// filters 为扁平的元数据谓词：普通值表示等值匹配，
// {"$gt"|"$gte"|"$lt"|"$lte": number} 形式的嵌套 map 表示区间边界。
// 不支持区间的后端以 ErrVectorStore 拒绝。
type VectorStore interface {
	// Upsert 按 id 插入或替换向量。ids、vectors 及非 nil 的
	// metadata 必须等长对齐，不一致属于前置条件违反，
	// 以 ErrVectorStore 报告。
	Upsert(ctx context.Context, collectionID string, ids []string, vectors [][]float32, metadata []map[string]any) error

	// Search 返回至多 topK 条按 Score 降序的命中，
	// filters 在排序前收窄候选。
	Search(ctx context.Context, collectionID string, queryVector []float32, topK int, filters map[string]any) ([]SearchHit, error)

	// Delete 按 id 集合、filter 或两者的并集删除向量，
	// 返回实际删除的数量。删除不存在的 id 不是错误，计 0。
	Delete(ctx context.Context, collectionID string, ids []string, filters map[string]any) (int, error)

	// Count 返回匹配 filters 的向量数量，filters 为 nil 时统计整个集合
	Count(ctx context.Context, collectionID string, filters map[string]any) (int, error)
}

// FileStreamHandle 与 HostServices.GetFileStream 返回的流配对的
// 不透明句柄，必须且只能传给一次 CloseFileStream
type FileStreamHandle string

// HostServices 插件实例触达宿主基础设施的唯一通道。一个实例在其
// 生命周期内绑定到恰好一个集合，它暴露的任何操作都不能访问其他
// 集合。对发放给它的单个插件实例并发安全，但不得在绑定不同集合的
// 插件实例之间共享。
type HostServices interface {
	Embedder() Embedder
	VectorStore() VectorStore
	CollectionID() string

	// GetFileStream 打开 storagePath 背后的文件用于读取。
	// 流为单消费者，句柄关闭后不得继续使用。每次成功调用必须在
	// 每条退出路径上恰好对应一次 CloseFileStream；
	// 优先使用有此保证的 WithFileStream。
	GetFileStream(ctx context.Context, storagePath string) (io.Reader, FileStreamHandle, error)
	CloseFileStream(ctx context.Context, handle FileStreamHandle) error
}

// WithFileStream 打开 storagePath，在流上执行 fn，并在 fn 返回、
// 失败或 panic 时都释放句柄。仅当 fn 本身成功时才报告关闭错误。
func WithFileStream(ctx context.Context, services HostServices, storagePath string, fn func(io.Reader) error) (err error) {
	stream, handle, err := services.GetFileStream(ctx, storagePath)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := services.CloseFileStream(ctx, handle)
		if err == nil {
			err = closeErr
		}
	}()
	return fn(stream)
}
