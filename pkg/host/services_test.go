package host

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

type fakeFileService struct {
	content string
	openErr error
}

func (f *fakeFileService) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func TestServicesFileStreamLifecycle(t *testing.T) {
	ctx := context.Background()
	services := NewServices("kb_1", NewHashEmbedder(8), NewMemoryVectorStore(),
		&fakeFileService{content: "hello"})

	reader, handle, err := services.GetFileStream(ctx, "doc.txt")
	require.NoError(t, err)
	require.Equal(t, 1, services.OpenStreams())

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, services.CloseFileStream(ctx, handle))
	require.Zero(t, services.OpenStreams())

	// 重复关闭同一 handle 报 ErrFileService
	err = services.CloseFileStream(ctx, handle)
	require.ErrorIs(t, err, rag.ErrFileService)

	// 未知 handle 同样报错
	err = services.CloseFileStream(ctx, rag.FileStreamHandle("bogus"))
	require.ErrorIs(t, err, rag.ErrFileService)
}

func TestServicesWithoutFileService(t *testing.T) {
	services := NewServices("kb_1", NewHashEmbedder(8), NewMemoryVectorStore(), nil)

	_, _, err := services.GetFileStream(context.Background(), "doc.txt")
	require.ErrorIs(t, err, rag.ErrFileService)
}

func TestServicesCollectionScoping(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryVectorStore()
	require.NoError(t, inner.CreateCollection(ctx, "kb_mine"))
	require.NoError(t, inner.CreateCollection(ctx, "kb_other"))

	services := NewServices("kb_mine", NewHashEmbedder(8), inner, nil)
	store := services.VectorStore()
	require.Equal(t, "kb_mine", services.CollectionID())

	err := store.Upsert(ctx, "kb_mine", []string{"a"}, [][]float32{{1, 0}},
		[]map[string]any{{"document_id": "d1"}})
	require.NoError(t, err)

	// 越权访问其它集合一律 ErrCollectionNotFound
	err = store.Upsert(ctx, "kb_other", []string{"x"}, [][]float32{{1, 0}}, nil)
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)

	_, err = store.Search(ctx, "kb_other", []float32{1, 0}, 5, nil)
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)

	_, err = store.Delete(ctx, "kb_other", []string{"x"}, nil)
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)

	_, err = store.Count(ctx, "kb_other", nil)
	require.ErrorIs(t, err, rag.ErrCollectionNotFound)

	// 真实集合未被越权写入
	count, err := inner.Count(ctx, "kb_other", nil)
	require.NoError(t, err)
	require.Zero(t, count)

	// 作用域内操作正常
	hits, err := store.Search(ctx, "kb_mine", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestLocalFileServiceBlocksEscape(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("data"), 0644))

	files := NewLocalFileService(root)

	rc, err := files.Open(ctx, "ok.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "data", string(data))

	_, err = files.Open(ctx, "../outside.txt")
	require.ErrorIs(t, err, rag.ErrFileService)

	_, err = files.Open(ctx, "missing.txt")
	require.ErrorIs(t, err, rag.ErrFileService)
}
