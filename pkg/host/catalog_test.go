package host

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	catalog, err := NewCatalog(db)
	require.NoError(t, err)
	return catalog
}

func TestCatalogKnowledgeBaseCRUD(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)

	kb := &KnowledgeBase{
		ID:            "kb1",
		Name:          "docs",
		ComponentName: "default",
		ComponentKind: string(rag.KindRAGEngine),
		CollectionID:  "kb_kb1",
		Config:        datatypes.JSONMap{"chunk_size": 512},
		Status:        "active",
	}
	require.NoError(t, catalog.CreateKnowledgeBase(ctx, kb))

	got, err := catalog.GetKnowledgeBase(ctx, "kb1")
	require.NoError(t, err)
	require.Equal(t, "docs", got.Name)
	require.Equal(t, "kb_kb1", got.CollectionID)

	_, err = catalog.GetKnowledgeBase(ctx, "missing")
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)

	require.NoError(t, catalog.DeleteKnowledgeBase(ctx, "kb1"))
	_, err = catalog.GetKnowledgeBase(ctx, "kb1")
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)
}

func TestCatalogDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)

	kb := &KnowledgeBase{
		ID: "kb1", Name: "docs", ComponentName: "default",
		ComponentKind: string(rag.KindRAGEngine), CollectionID: "kb_kb1", Status: "active",
	}
	require.NoError(t, catalog.CreateKnowledgeBase(ctx, kb))

	doc := &Document{
		ID:              "doc1",
		KnowledgeBaseID: "kb1",
		FileName:        "a.txt",
		StoragePath:     "a.txt",
		Status:          DocumentStatusPending,
	}
	require.NoError(t, catalog.CreateDocument(ctx, doc))

	require.NoError(t, catalog.UpdateDocumentStatus(ctx, "doc1", DocumentStatusProcessing, ""))
	got, err := catalog.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, DocumentStatusProcessing, got.Status)

	require.NoError(t, catalog.MarkDocumentIndexed(ctx, "kb1", "doc1", 7))
	got, err = catalog.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, DocumentStatusIndexed, got.Status)
	require.Equal(t, 7, got.ChunkCount)

	// 知识库统计同步
	kbGot, err := catalog.GetKnowledgeBase(ctx, "kb1")
	require.NoError(t, err)
	require.Equal(t, 1, kbGot.DocumentCount)
	require.Equal(t, 7, kbGot.ChunkCount)

	docs, err := catalog.ListDocuments(ctx, "kb1")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, catalog.RemoveDocument(ctx, "kb1", "doc1"))
	docs, err = catalog.ListDocuments(ctx, "kb1")
	require.NoError(t, err)
	require.Empty(t, docs)

	kbGot, err = catalog.GetKnowledgeBase(ctx, "kb1")
	require.NoError(t, err)
	require.Zero(t, kbGot.DocumentCount)
	require.Zero(t, kbGot.ChunkCount)

	// 再删一次幂等
	require.NoError(t, catalog.RemoveDocument(ctx, "kb1", "doc1"))
}

func TestCatalogFailedDocumentKeepsError(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)

	doc := &Document{
		ID: "doc1", KnowledgeBaseID: "kb1",
		StoragePath: "a.txt", Status: DocumentStatusPending,
	}
	require.NoError(t, catalog.CreateDocument(ctx, doc))

	require.NoError(t, catalog.UpdateDocumentStatus(ctx, "doc1", DocumentStatusFailed, "parse error"))
	got, err := catalog.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, DocumentStatusFailed, got.Status)
	require.Equal(t, "parse error", got.ErrorMessage)
}
