package host

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// MemoryVectorStore 是用于测试和开发宿主的内存 rag.VectorStore。
// 集合必须显式创建,让 ErrCollectionNotFound 有真实的触发路径。
type MemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryRecord
}

type memoryRecord struct {
	vector   []float32
	metadata map[string]any
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{collections: make(map[string]map[string]memoryRecord)}
}

// CreateCollection 使 collectionID 可寻址。重复创建是空操作。
func (s *MemoryVectorStore) CreateCollection(ctx context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collectionID]; !ok {
		s.collections[collectionID] = make(map[string]memoryRecord)
	}
	return nil
}

// DropCollection 删除集合及其全部向量。
func (s *MemoryVectorStore) DropCollection(ctx context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collectionID]; !ok {
		return rag.WrapError(rag.ErrCollectionNotFound, nil, collectionID)
	}
	delete(s.collections, collectionID)
	return nil
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, collectionID string, ids []string, vectors [][]float32, metadata []map[string]any) error {
	if len(ids) != len(vectors) {
		return rag.WrapError(rag.ErrVectorStore, nil,
			fmt.Sprintf("ids/vectors length mismatch: %d vs %d", len(ids), len(vectors)))
	}
	if metadata != nil && len(metadata) != len(ids) {
		return rag.WrapError(rag.ErrVectorStore, nil,
			fmt.Sprintf("ids/metadata length mismatch: %d vs %d", len(ids), len(metadata)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collectionID]
	if !ok {
		return rag.WrapError(rag.ErrCollectionNotFound, nil, collectionID)
	}
	for i, id := range ids {
		rec := memoryRecord{vector: append([]float32(nil), vectors[i]...)}
		if metadata != nil {
			rec.metadata = metadata[i]
		}
		coll[id] = rec
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, collectionID string, queryVector []float32, topK int, filters map[string]any) ([]rag.SearchHit, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[collectionID]
	if !ok {
		return nil, rag.WrapError(rag.ErrCollectionNotFound, nil, collectionID)
	}
	hits := make([]rag.SearchHit, 0, len(coll))
	for id, rec := range coll {
		if !matchFilters(rec.metadata, filters) {
			continue
		}
		hits = append(hits, rag.SearchHit{
			ID:       id,
			Score:    cosineSimilarity(queryVector, rec.vector),
			Metadata: rec.metadata,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryVectorStore) Delete(ctx context.Context, collectionID string, ids []string, filters map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collectionID]
	if !ok {
		return 0, rag.WrapError(rag.ErrCollectionNotFound, nil, collectionID)
	}
	// Union of the id set and the filter match.
	victims := make(map[string]struct{})
	for _, id := range ids {
		if _, exists := coll[id]; exists {
			victims[id] = struct{}{}
		}
	}
	if filters != nil {
		for id, rec := range coll {
			if matchFilters(rec.metadata, filters) {
				victims[id] = struct{}{}
			}
		}
	}
	for id := range victims {
		delete(coll, id)
	}
	return len(victims), nil
}

func (s *MemoryVectorStore) Count(ctx context.Context, collectionID string, filters map[string]any) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[collectionID]
	if !ok {
		return 0, rag.WrapError(rag.ErrCollectionNotFound, nil, collectionID)
	}
	if filters == nil {
		return len(coll), nil
	}
	n := 0
	for _, rec := range coll {
		if matchFilters(rec.metadata, filters) {
			n++
		}
	}
	return n, nil
}

// matchFilters applies the flat predicate map documented on
// rag.VectorStore: plain values mean equality, nested maps carry
// range bounds.
func matchFilters(metadata, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if bounds, isRange := want.(map[string]any); isRange {
			if !matchRange(got, bounds) {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func matchRange(value any, bounds map[string]any) bool {
	v, ok := toFloat(value)
	if !ok {
		return false
	}
	for op, raw := range bounds {
		bound, ok := toFloat(raw)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			if !(v > bound) {
				return false
			}
		case "$gte":
			if !(v >= bound) {
				return false
			}
		case "$lt":
			if !(v < bound) {
				return false
			}
		case "$lte":
			if !(v <= bound) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
