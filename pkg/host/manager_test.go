package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/engine/defaultengine"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// echoRetriever 旧式检索器：返回固定条目
type echoRetriever struct{}

func (echoRetriever) Kind() rag.ComponentKind { return rag.KindKnowledgeRetriever }

func (echoRetriever) Retrieve(ctx context.Context, rctx *rag.RetrievalContext) ([]rag.RetrievalResultEntry, error) {
	return []rag.RetrievalResultEntry{
		{ID: "legacy-1", Score: 0.9, Distance: 0.1, Metadata: map[string]any{"content": rctx.Query}},
	}, nil
}

// silentEngine 行为异常的引擎：检索返回 (nil, nil)
type silentEngine struct {
	rag.BaseEngine
}

func (silentEngine) Ingest(ctx context.Context, ic *rag.IngestionContext) (*rag.IngestionResult, error) {
	return &rag.IngestionResult{Status: rag.IngestionSucceeded, DocumentID: ic.DocumentID}, nil
}

func (silentEngine) DeleteDocument(ctx context.Context, kbID, documentID string) (bool, error) {
	return false, nil
}

func (silentEngine) Retrieve(ctx context.Context, rc *rag.RetrievalContext) (*rag.RetrievalResponse, error) {
	return nil, nil
}

func (silentEngine) CreationSettingsSchema() rag.SettingsSchema {
	return rag.SettingsSchema{"type": "object"}
}

func (silentEngine) RetrievalSettingsSchema() rag.SettingsSchema {
	return rag.SettingsSchema{"type": "object"}
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	catalog, err := NewCatalog(db)
	require.NoError(t, err)

	registry := rag.NewRegistry()
	require.NoError(t, defaultengine.Register(registry))
	require.NoError(t, registry.RegisterRetriever("legacy", func(rag.HostServices) (rag.KnowledgeRetriever, error) {
		return echoRetriever{}, nil
	}))
	require.NoError(t, registry.RegisterEngine("silent", func(rag.HostServices) (rag.RAGEngine, error) {
		return silentEngine{}, nil
	}))

	root := t.TempDir()
	manager := NewManager(registry, catalog, NewHashEmbedder(32), NewMemoryVectorStore(),
		NewLocalFileService(root))
	return manager, root
}

func writeDoc(t *testing.T, root, name, content string) rag.FileObject {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	return rag.FileObject{
		StoragePath: name,
		FileName:    name,
		Size:        int64(len(content)),
		MimeType:    "text/plain",
	}
}

func TestManagerKnowledgeBaseLifecycle(t *testing.T) {
	ctx := context.Background()
	manager, root := newTestManager(t)

	// 未注册的组件
	_, err := manager.CreateKnowledgeBase(ctx, "kb", "nope", nil)
	require.Error(t, err)

	// 创建配置不符合 schema
	_, err = manager.CreateKnowledgeBase(ctx, "kb", defaultengine.Name,
		map[string]any{"chunk_size": 10})
	require.Error(t, err)

	kb, err := manager.CreateKnowledgeBase(ctx, "kb", defaultengine.Name,
		map[string]any{"chunk_size": 300})
	require.NoError(t, err)
	require.Equal(t, string(rag.KindRAGEngine), kb.ComponentKind)
	// schema 默认值已补全
	require.Equal(t, "general", kb.Config["index_mode"])

	file := writeDoc(t, root, "doc.txt",
		"The quick brown fox jumps over the lazy dog. "+
			"Vector search retrieves the most similar chunks. "+
			"Plugins only reach storage through host services.")

	doc, err := manager.IngestDocument(ctx, kb.ID, file,
		rag.ChunkingStrategy{ChunkSize: 60, ChunkOverlap: 10})
	require.NoError(t, err)
	require.Equal(t, DocumentStatusIndexed, doc.Status)
	require.Greater(t, doc.ChunkCount, 1)

	docs, err := manager.ListDocuments(ctx, kb.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, DocumentStatusIndexed, docs[0].Status)

	resp, err := manager.Retrieve(ctx, kb.ID, "vector search", rag.RetrievalSettings{
		"top_k":                5,
		"similarity_threshold": 0.0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Entries)
	require.Equal(t, doc.ID, resp.Entries[0].Metadata["document_id"])

	// 非法检索设置被 schema 拒绝
	_, err = manager.Retrieve(ctx, kb.ID, "q", rag.RetrievalSettings{"top_k": 0})
	require.ErrorIs(t, err, rag.ErrRetrieval)

	found, err := manager.DeleteDocument(ctx, kb.ID, doc.ID)
	require.NoError(t, err)
	require.True(t, found)

	// 再删一次幂等
	found, err = manager.DeleteDocument(ctx, kb.ID, doc.ID)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, manager.DeleteKnowledgeBase(ctx, kb.ID))

	// 删除后任何操作都报集合不存在
	_, err = manager.GetKnowledgeBase(ctx, kb.ID)
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)
	_, err = manager.Retrieve(ctx, kb.ID, "q", nil)
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)
}

func TestManagerFailedIngestLeavesFailedRecord(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	kb, err := manager.CreateKnowledgeBase(ctx, "kb", defaultengine.Name, nil)
	require.NoError(t, err)

	// 文件不存在，入库失败
	_, err = manager.IngestDocument(ctx, kb.ID, rag.FileObject{
		StoragePath: "missing.txt",
		FileName:    "missing.txt",
		MimeType:    "text/plain",
	}, rag.ChunkingStrategy{ChunkSize: 200})
	require.Error(t, err)

	docs, err := manager.ListDocuments(ctx, kb.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, DocumentStatusFailed, docs[0].Status)
	require.NotEmpty(t, docs[0].ErrorMessage)
}

func TestManagerLegacyRetrieverDispatch(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	kb, err := manager.CreateKnowledgeBase(ctx, "old", "legacy",
		map[string]any{"anything": "goes"})
	require.NoError(t, err)
	require.Equal(t, string(rag.KindKnowledgeRetriever), kb.ComponentKind)

	// 检索器结果被包装成统一响应
	resp, err := manager.Retrieve(ctx, kb.ID, "hello", nil)
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	require.Equal(t, "legacy-1", resp.Entries[0].ID)
	require.False(t, resp.RerankApplied)

	// 检索器不支持文档入库
	_, err = manager.IngestDocument(ctx, kb.ID, rag.FileObject{StoragePath: "x"},
		rag.ChunkingStrategy{})
	require.ErrorIs(t, err, rag.ErrIngestion)

	require.NoError(t, manager.DeleteKnowledgeBase(ctx, kb.ID))
}

func TestManagerRebuildsInstanceFromCatalog(t *testing.T) {
	ctx := context.Background()
	manager, root := newTestManager(t)

	kb, err := manager.CreateKnowledgeBase(ctx, "kb", defaultengine.Name, nil)
	require.NoError(t, err)

	file := writeDoc(t, root, "doc.txt", "Persistent instances survive restarts. Catalog records rebuild them.")
	_, err = manager.IngestDocument(ctx, kb.ID, file, rag.ChunkingStrategy{ChunkSize: 200})
	require.NoError(t, err)

	// 模拟宿主重启：实例缓存清空后按 catalog 记录重建
	manager.mu.Lock()
	manager.instances = make(map[string]managedInstance)
	manager.mu.Unlock()

	resp, err := manager.Retrieve(ctx, kb.ID, "restart", rag.RetrievalSettings{
		"similarity_threshold": 0.0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Entries)
}

func TestManagerRetrieveRejectsNilEngineResponse(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	kb, err := manager.CreateKnowledgeBase(ctx, "kb", "silent", nil)
	require.NoError(t, err)

	// 引擎返回 (nil, nil) 时上浮为检索错误而不是崩溃
	_, err = manager.Retrieve(ctx, kb.ID, "anything", nil)
	require.ErrorIs(t, err, rag.ErrRetrieval)
}
