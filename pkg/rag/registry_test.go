package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	BaseEngine
}

func (stubEngine) Ingest(ctx context.Context, ictx *IngestionContext) (*IngestionResult, error) {
	return &IngestionResult{Status: IngestionSucceeded, DocumentID: ictx.DocumentID}, nil
}

func (stubEngine) DeleteDocument(ctx context.Context, kbID, documentID string) (bool, error) {
	return false, nil
}

func (stubEngine) Retrieve(ctx context.Context, rctx *RetrievalContext) (*RetrievalResponse, error) {
	return &RetrievalResponse{}, nil
}

func (stubEngine) CreationSettingsSchema() SettingsSchema  { return SettingsSchema{"type": "object"} }
func (stubEngine) RetrievalSettingsSchema() SettingsSchema { return SettingsSchema{"type": "object"} }

type stubRetriever struct{}

func (stubRetriever) Kind() ComponentKind { return KindKnowledgeRetriever }

func (stubRetriever) Retrieve(ctx context.Context, rctx *RetrievalContext) ([]RetrievalResultEntry, error) {
	return nil, nil
}

func TestRegistryDispatchByKind(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterEngine("engine", func(HostServices) (RAGEngine, error) {
		return stubEngine{}, nil
	}))
	require.NoError(t, r.RegisterRetriever("legacy", func(HostServices) (KnowledgeRetriever, error) {
		return stubRetriever{}, nil
	}))

	kind, ok := r.Kind("engine")
	require.True(t, ok)
	require.Equal(t, KindRAGEngine, kind)

	kind, ok = r.Kind("legacy")
	require.True(t, ok)
	require.Equal(t, KindKnowledgeRetriever, kind)

	_, ok = r.Kind("missing")
	require.False(t, ok)

	engine, err := r.NewEngine("engine", nil)
	require.NoError(t, err)
	require.Equal(t, KindRAGEngine, engine.Kind())

	retriever, err := r.NewRetriever("legacy", nil)
	require.NoError(t, err)
	require.Equal(t, KindKnowledgeRetriever, retriever.Kind())

	require.ElementsMatch(t, []string{"engine", "legacy"}, r.Names())
}

func TestRegistryRejectsNameCollision(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterEngine("dup", func(HostServices) (RAGEngine, error) {
		return stubEngine{}, nil
	}))

	// 同名组件无论种类一律拒绝
	require.Error(t, r.RegisterEngine("dup", func(HostServices) (RAGEngine, error) {
		return stubEngine{}, nil
	}))
	require.Error(t, r.RegisterRetriever("dup", func(HostServices) (KnowledgeRetriever, error) {
		return stubRetriever{}, nil
	}))
}

func TestRegistryUnknownComponent(t *testing.T) {
	r := NewRegistry()

	_, err := r.NewEngine("nope", nil)
	require.Error(t, err)

	_, err = r.NewRetriever("nope", nil)
	require.Error(t, err)
}
