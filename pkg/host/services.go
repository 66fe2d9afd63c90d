// Package host 提供宿主注入给 RAG 插件的能力协议参考实现:
// 按集合隔离的 HostServices、嵌入器、向量存储、文件流,
// 以及驱动插件生命周期的知识库管理器。
package host

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/metrics"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// FileService 按不透明存储路径打开可读流。路径命名空间归宿主所有,
// 插件只能看到 IngestionContext 里显式交付的路径。
type FileService interface {
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
}

// Services 是发放给单个插件实例、按集合隔离的 rag.HostServices 聚合。
// 它暴露的向量存储拒绝绑定集合之外的任何集合 ID,
// 插件的实际权限在构造处一目了然。
type Services struct {
	collectionID string
	embedder     rag.Embedder
	store        *scopedStore
	files        FileService

	mu      sync.Mutex
	streams map[rag.FileStreamHandle]io.ReadCloser
}

// NewServices 把一个 HostServices 实例绑定到唯一的集合。
func NewServices(collectionID string, embedder rag.Embedder, store rag.VectorStore, files FileService) *Services {
	return &Services{
		collectionID: collectionID,
		embedder:     embedder,
		store:        &scopedStore{collectionID: collectionID, inner: store},
		files:        files,
		streams:      make(map[rag.FileStreamHandle]io.ReadCloser),
	}
}

func (s *Services) Embedder() rag.Embedder       { return s.embedder }
func (s *Services) VectorStore() rag.VectorStore { return s.store }
func (s *Services) CollectionID() string         { return s.collectionID }

// GetFileStream 打开 storagePath 并用新句柄登记该流。
// 调用方必须对它调用且仅调用一次 CloseFileStream。
func (s *Services) GetFileStream(ctx context.Context, storagePath string) (io.Reader, rag.FileStreamHandle, error) {
	if s.files == nil {
		return nil, "", rag.WrapError(rag.ErrFileService, nil, "no file service configured")
	}
	rc, err := s.files.Open(ctx, storagePath)
	if err != nil {
		return nil, "", err
	}
	handle := rag.FileStreamHandle(uuid.New().String())
	s.mu.Lock()
	s.streams[handle] = rc
	s.mu.Unlock()
	metrics.OpenFileStreams.Inc()
	return rc, handle, nil
}

// CloseFileStream 释放句柄背后的流。关闭未知或已关闭的句柄
// 返回 ErrFileService,重复释放的问题在测试里就能暴露。
func (s *Services) CloseFileStream(ctx context.Context, handle rag.FileStreamHandle) error {
	s.mu.Lock()
	rc, ok := s.streams[handle]
	if ok {
		delete(s.streams, handle)
	}
	s.mu.Unlock()
	if !ok {
		return rag.WrapError(rag.ErrFileService, nil, fmt.Sprintf("unknown file stream handle %q", handle))
	}
	metrics.OpenFileStreams.Dec()
	if err := rc.Close(); err != nil {
		return rag.WrapError(rag.ErrFileService, err, "close file stream")
	}
	return nil
}

// OpenStreams 返回当前仍持有的流数量。入库结束后为零说明释放纪律成立。
func (s *Services) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// scopedStore enforces the collection binding in front of the real
// vector store.
type scopedStore struct {
	collectionID string
	inner        rag.VectorStore
}

func (s *scopedStore) guard(collectionID string) error {
	if collectionID != s.collectionID {
		return rag.WrapError(rag.ErrCollectionNotFound, nil,
			fmt.Sprintf("collection %q is outside this instance's scope (%q)", collectionID, s.collectionID))
	}
	return nil
}

func (s *scopedStore) Upsert(ctx context.Context, collectionID string, ids []string, vectors [][]float32, metadata []map[string]any) error {
	if err := s.guard(collectionID); err != nil {
		return err
	}
	return s.inner.Upsert(ctx, collectionID, ids, vectors, metadata)
}

func (s *scopedStore) Search(ctx context.Context, collectionID string, queryVector []float32, topK int, filters map[string]any) ([]rag.SearchHit, error) {
	if err := s.guard(collectionID); err != nil {
		return nil, err
	}
	return s.inner.Search(ctx, collectionID, queryVector, topK, filters)
}

func (s *scopedStore) Delete(ctx context.Context, collectionID string, ids []string, filters map[string]any) (int, error) {
	if err := s.guard(collectionID); err != nil {
		return 0, err
	}
	return s.inner.Delete(ctx, collectionID, ids, filters)
}

func (s *scopedStore) Count(ctx context.Context, collectionID string, filters map[string]any) (int, error) {
	if err := s.guard(collectionID); err != nil {
		return 0, err
	}
	return s.inner.Count(ctx, collectionID, filters)
}
