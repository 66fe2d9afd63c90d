package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// qdrantFake 维护真实点状态的最小 Qdrant 模拟：
// count 与 delete 都按当前状态对 filter 求值，而不是按脚本应答。
type qdrantFake struct {
	t *testing.T

	points map[string]map[string]any // id -> payload

	searchBodies []searchRequest
	countBodies  []countRequest
	deleteBodies []deletePointsRequest
	upsertBodies []upsertPointsRequest

	failNext int // 让接下来 N 个请求返回 500
}

func newQdrantFake(t *testing.T) *qdrantFake {
	return &qdrantFake{t: t, points: make(map[string]map[string]any)}
}

func (f *qdrantFake) matches(id string, payload map[string]any, filter *qdrantFilter) bool {
	if filter == nil {
		return true
	}
	for _, cond := range filter.Must {
		switch {
		case len(cond.HasID) > 0:
			if !slices.Contains(cond.HasID, id) {
				return false
			}
		case cond.Match != nil:
			if payload[cond.Key] != cond.Match.Value {
				return false
			}
		case cond.Range != nil:
			v, ok := payload[cond.Key].(float64)
			if !ok {
				return false
			}
			r := cond.Range
			if r.GT != nil && !(v > *r.GT) {
				return false
			}
			if r.GTE != nil && !(v >= *r.GTE) {
				return false
			}
			if r.LT != nil && !(v < *r.LT) {
				return false
			}
			if r.LTE != nil && !(v <= *r.LTE) {
				return false
			}
		}
	}
	return true
}

func (f *qdrantFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failNext > 0 {
			f.failNext--
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":"error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet:
			// 集合探测：存在
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.URL.Path == "/collections/testc/points":
			var body upsertPointsRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.upsertBodies = append(f.upsertBodies, body)
			for _, p := range body.Points {
				f.points[p.ID] = p.Payload
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.URL.Path == "/collections/testc/points/search":
			var body searchRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.searchBodies = append(f.searchBodies, body)
			_, _ = w.Write([]byte(`{"status":"ok","result":[` +
				`{"id":"v1","score":0.92,"payload":{"__collection_id":"kb_1","content":"first"}},` +
				`{"id":"v2","score":0.81,"payload":{"__collection_id":"kb_1","content":"second"}}]}`))
		case r.URL.Path == "/collections/testc/points/count":
			var body countRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.countBodies = append(f.countBodies, body)
			n := 0
			for id, payload := range f.points {
				if f.matches(id, payload, body.Filter) {
					n++
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "ok",
				"result": map[string]any{"count": n},
			})
		case r.URL.Path == "/collections/testc/points/delete":
			var body deletePointsRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.deleteBodies = append(f.deleteBodies, body)
			for id, payload := range f.points {
				if f.matches(id, payload, body.Filter) {
					delete(f.points, id)
				}
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func newQdrantUnderTest(t *testing.T, fake *qdrantFake) *QdrantVectorStore {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	store, err := NewQdrantVectorStore(QdrantOptions{
		Endpoint:        server.URL,
		Collection:      "testc",
		VectorDimension: 2,
		HTTPClient:      server.Client(),
	})
	require.NoError(t, err)
	return store
}

func seedQdrantPoint(t *testing.T, store *QdrantVectorStore, collectionID, id, documentID string) {
	t.Helper()
	err := store.Upsert(context.Background(), collectionID,
		[]string{id}, [][]float32{{1, 0}},
		[]map[string]any{{"document_id": documentID}})
	require.NoError(t, err)
}

func hasCollectionCondition(filter *qdrantFilter, collectionID string) bool {
	if filter == nil {
		return false
	}
	for _, cond := range filter.Must {
		if cond.Key == collectionPayloadKey && cond.Match != nil && cond.Match.Value == collectionID {
			return true
		}
	}
	return false
}

func TestQdrantUpsertScopesPayload(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)

	err := store.Upsert(context.Background(), "kb_1",
		[]string{"v1"}, [][]float32{{1, 0}},
		[]map[string]any{{"content": "first"}})
	require.NoError(t, err)

	require.Len(t, fake.upsertBodies, 1)
	point := fake.upsertBodies[0].Points[0]
	require.Equal(t, "v1", point.ID)
	// 逻辑集合写入 payload
	require.Equal(t, "kb_1", point.Payload[collectionPayloadKey])
	require.Equal(t, "first", point.Payload["content"])
}

func TestQdrantUpsertDimensionMismatch(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)

	err := store.Upsert(context.Background(), "kb_1",
		[]string{"v1"}, [][]float32{{1, 0, 0}}, nil)
	require.ErrorIs(t, err, rag.ErrVectorStore)
	require.Empty(t, fake.upsertBodies)
}

func TestQdrantSearchFiltersByCollection(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)

	hits, err := store.Search(context.Background(), "kb_1", []float32{1, 0}, 5,
		map[string]any{"document_id": "d1", "chunk_index": map[string]any{"$lt": 3}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "v1", hits[0].ID)
	require.Equal(t, 0.92, hits[0].Score)
	// 内部作用域字段不外泄
	require.NotContains(t, hits[0].Metadata, collectionPayloadKey)

	require.Len(t, fake.searchBodies, 1)
	body := fake.searchBodies[0]
	require.Equal(t, 5, body.Limit)
	require.True(t, hasCollectionCondition(body.Filter, "kb_1"))

	// 等值与区间条件都传给了 Qdrant
	var sawMatch, sawRange bool
	for _, cond := range body.Filter.Must {
		if cond.Key == "document_id" && cond.Match != nil {
			sawMatch = true
		}
		if cond.Key == "chunk_index" && cond.Range != nil && cond.Range.LT != nil {
			sawRange = true
		}
	}
	require.True(t, sawMatch)
	require.True(t, sawRange)
}

func TestQdrantDeleteCountsUnion(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)
	ctx := context.Background()

	seedQdrantPoint(t, store, "kb_1", "a", "d1")
	seedQdrantPoint(t, store, "kb_1", "b", "d1")
	seedQdrantPoint(t, store, "kb_1", "c", "d2")

	// ids 命中 a,c，filter 命中 a,b，交集 a：并集 3
	removed, err := store.Delete(ctx, "kb_1",
		[]string{"a", "c"}, map[string]any{"document_id": "d1"})
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	count, err := store.Count(ctx, "kb_1", nil)
	require.NoError(t, err)
	require.Zero(t, count)

	// 再删一次应幂等返回 0
	removed, err = store.Delete(ctx, "kb_1",
		[]string{"a", "c"}, map[string]any{"document_id": "d1"})
	require.NoError(t, err)
	require.Zero(t, removed)

	for _, del := range fake.deleteBodies {
		require.True(t, hasCollectionCondition(del.Filter, "kb_1"))
	}
}

func TestQdrantDeleteOverlapCountedOnce(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)
	ctx := context.Background()

	// 唯一的点同时被 id 和 filter 命中，仍应计 1
	seedQdrantPoint(t, store, "kb_1", "a", "d1")

	removed, err := store.Delete(ctx, "kb_1",
		[]string{"a"}, map[string]any{"document_id": "d1"})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	count, err := store.Count(ctx, "kb_1", nil)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestQdrantDeleteNothingRequested(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)

	removed, err := store.Delete(context.Background(), "kb_1", nil, nil)
	require.NoError(t, err)
	require.Zero(t, removed)
	require.Empty(t, fake.deleteBodies)
}

func TestQdrantCount(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)
	ctx := context.Background()

	seedQdrantPoint(t, store, "kb_1", "a", "d1")
	seedQdrantPoint(t, store, "kb_1", "b", "d1")
	seedQdrantPoint(t, store, "kb_2", "c", "d3")

	count, err := store.Count(ctx, "kb_1", nil)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.True(t, hasCollectionCondition(fake.countBodies[0].Filter, "kb_1"))
}

func TestQdrantEnsureRetriesAfterFailure(t *testing.T) {
	fake := newQdrantFake(t)
	store := newQdrantUnderTest(t, fake)
	ctx := context.Background()

	// 第一次探测与建集合都失败，实例不应被永久污染
	fake.failNext = 2
	_, err := store.Count(ctx, "kb_1", nil)
	require.ErrorIs(t, err, rag.ErrVectorStore)

	count, err := store.Count(ctx, "kb_1", nil)
	require.NoError(t, err)
	require.Zero(t, count)
}
