package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// QdrantOptions 初始化 Qdrant 向量存储的配置
type QdrantOptions struct {
	Endpoint        string
	APIKey          string
	Collection      string // Qdrant 物理集合名，默认 langbot_rag_chunks
	VectorDimension int
	Distance        string
	TimeoutSeconds  int
	HTTPClient      *http.Client
}

// QdrantVectorStore 基于 Qdrant HTTP API 的 rag.VectorStore 实现。
// 所有逻辑集合共享一个物理集合，payload 中的 __collection_id 字段
// 承担集合隔离；Score 即 Qdrant 返回的相似度，按降序返回。
type QdrantVectorStore struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	distance   string
	ensureMu   sync.Mutex
	ensured    bool
}

const collectionPayloadKey = "__collection_id"

// NewQdrantVectorStore 创建 Qdrant 向量存储实例
func NewQdrantVectorStore(opts QdrantOptions) (*QdrantVectorStore, error) {
	baseURL := strings.TrimSpace(opts.Endpoint)
	if baseURL == "" {
		return nil, rag.WrapError(rag.ErrVectorStore, nil, "qdrant endpoint is empty")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	collection := opts.Collection
	if collection == "" {
		collection = "langbot_rag_chunks"
	}
	vectorSize := opts.VectorDimension
	if vectorSize <= 0 {
		vectorSize = 1536
	}
	distance := opts.Distance
	if distance == "" {
		distance = "Cosine"
	}
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &QdrantVectorStore{
		client:     client,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		collection: collection,
		vectorSize: vectorSize,
		distance:   distance,
	}, nil
}

func (s *QdrantVectorStore) Upsert(ctx context.Context, collectionID string, ids []string, vectors [][]float32, metadata []map[string]any) error {
	if len(ids) != len(vectors) {
		return rag.WrapError(rag.ErrVectorStore, nil,
			fmt.Sprintf("ids/vectors length mismatch: %d vs %d", len(ids), len(vectors)))
	}
	if metadata != nil && len(metadata) != len(ids) {
		return rag.WrapError(rag.ErrVectorStore, nil,
			fmt.Sprintf("ids/metadata length mismatch: %d vs %d", len(ids), len(metadata)))
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.vectorSize {
			return rag.WrapError(rag.ErrVectorStore, nil,
				fmt.Sprintf("vector dimension mismatch: want %d got %d", s.vectorSize, len(vectors[i])))
		}
		payload := map[string]any{collectionPayloadKey: collectionID}
		for k, v := range metadataAt(metadata, i) {
			payload[k] = v
		}
		points = append(points, qdrantPoint{ID: id, Vector: vectors[i], Payload: payload})
	}

	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, s.pointsPath("?wait=true"), upsertPointsRequest{Points: points}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return rag.WrapError(rag.ErrVectorStore, nil, "qdrant upsert: "+resp.Error)
	}
	return nil
}

func (s *QdrantVectorStore) Search(ctx context.Context, collectionID string, queryVector []float32, topK int, filters map[string]any) ([]rag.SearchHit, error) {
	if len(queryVector) == 0 {
		return nil, rag.WrapError(rag.ErrVectorStore, nil, "query vector is empty")
	}
	if topK <= 0 {
		topK = 5
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	filter, err := s.buildFilter(collectionID, nil, filters)
	if err != nil {
		return nil, err
	}
	req := searchRequest{
		Vector:      queryVector,
		Limit:       topK,
		WithPayload: true,
		Filter:      filter,
	}
	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, rag.WrapError(rag.ErrVectorStore, nil, "qdrant search: "+resp.Error)
	}

	hits := make([]rag.SearchHit, 0, len(resp.Result))
	for _, item := range resp.Result {
		delete(item.Payload, collectionPayloadKey)
		hits = append(hits, rag.SearchHit{
			ID:       fmt.Sprint(item.ID),
			Score:    item.Score,
			Metadata: item.Payload,
		})
	}
	return hits, nil
}

func (s *QdrantVectorStore) Delete(ctx context.Context, collectionID string, ids []string, filters map[string]any) (int, error) {
	if len(ids) == 0 && filters == nil {
		return 0, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}

	// Qdrant 的 delete 不返回删除数量，先 count 再删。
	// 所有计数必须在任何删除之前完成，否则交集会被重复扣除。
	// 并集数量 = |ids 命中| + |filter 命中| - |两者交集|。
	removed := 0
	var idFilter, metaFilter *qdrantFilter
	if len(ids) > 0 {
		var err error
		idFilter, err = s.buildFilter(collectionID, ids, nil)
		if err != nil {
			return 0, err
		}
		n, err := s.countWith(ctx, idFilter)
		if err != nil {
			return 0, err
		}
		removed += n
	}
	if filters != nil {
		var err error
		metaFilter, err = s.buildFilter(collectionID, nil, filters)
		if err != nil {
			return 0, err
		}
		n, err := s.countWith(ctx, metaFilter)
		if err != nil {
			return 0, err
		}
		removed += n
	}
	if len(ids) > 0 && filters != nil {
		bothFilter, err := s.buildFilter(collectionID, ids, filters)
		if err != nil {
			return 0, err
		}
		overlap, err := s.countWith(ctx, bothFilter)
		if err != nil {
			return 0, err
		}
		removed -= overlap
	}

	if idFilter != nil {
		if err := s.deleteWith(ctx, deletePointsRequest{Filter: idFilter}); err != nil {
			return 0, err
		}
	}
	if metaFilter != nil {
		if err := s.deleteWith(ctx, deletePointsRequest{Filter: metaFilter}); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

func (s *QdrantVectorStore) Count(ctx context.Context, collectionID string, filters map[string]any) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}
	filter, err := s.buildFilter(collectionID, nil, filters)
	if err != nil {
		return 0, err
	}
	return s.countWith(ctx, filter)
}

// DropCollection 删除某个逻辑集合的全部向量
func (s *QdrantVectorStore) DropCollection(ctx context.Context, collectionID string) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	filter, err := s.buildFilter(collectionID, nil, nil)
	if err != nil {
		return err
	}
	return s.deleteWith(ctx, deletePointsRequest{Filter: filter})
}

// CreateCollection 共享物理集合模式下无需逐集合建表，仅确保物理集合存在
func (s *QdrantVectorStore) CreateCollection(ctx context.Context, collectionID string) error {
	return s.ensureCollection(ctx)
}

// --- 内部辅助 ---

func (s *QdrantVectorStore) buildFilter(collectionID string, ids []string, filters map[string]any) (*qdrantFilter, error) {
	must := []qdrantCondition{{Key: collectionPayloadKey, Match: &fieldMatch{Value: collectionID}}}
	if len(ids) > 0 {
		must = append(must, qdrantCondition{HasID: ids})
	}
	for key, want := range filters {
		if bounds, isRange := want.(map[string]any); isRange {
			r := &fieldRange{}
			for op, raw := range bounds {
				val, ok := toFloat(raw)
				if !ok {
					return nil, rag.WrapError(rag.ErrVectorStore, nil,
						fmt.Sprintf("non-numeric range bound for %q", key))
				}
				switch op {
				case "$gt":
					r.GT = &val
				case "$gte":
					r.GTE = &val
				case "$lt":
					r.LT = &val
				case "$lte":
					r.LTE = &val
				default:
					return nil, rag.WrapError(rag.ErrVectorStore, nil,
						fmt.Sprintf("unsupported filter operator %q", op))
				}
			}
			must = append(must, qdrantCondition{Key: key, Range: r})
			continue
		}
		must = append(must, qdrantCondition{Key: key, Match: &fieldMatch{Value: want}})
	}
	return &qdrantFilter{Must: must}, nil
}

func (s *QdrantVectorStore) countWith(ctx context.Context, filter *qdrantFilter) (int, error) {
	var resp countResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/count"), countRequest{Filter: filter, Exact: true}, &resp); err != nil {
		return 0, err
	}
	if resp.Status != "ok" {
		return 0, rag.WrapError(rag.ErrVectorStore, nil, "qdrant count: "+resp.Error)
	}
	return int(resp.Result.Count), nil
}

func (s *QdrantVectorStore) deleteWith(ctx context.Context, req deletePointsRequest) error {
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return rag.WrapError(rag.ErrVectorStore, nil, "qdrant delete: "+resp.Error)
	}
	return nil
}

func (s *QdrantVectorStore) collectionPath(path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.collection), path)
}

func (s *QdrantVectorStore) pointsPath(query string) string {
	return fmt.Sprintf("/collections/%s/points%s", url.PathEscape(s.collection), query)
}

// ensureCollection 确认物理集合存在，不存在则创建。
// 失败不缓存结果，下次调用会重试，避免瞬时故障永久污染实例。
func (s *QdrantVectorStore) ensureCollection(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	var resp qdrantOperationResponse
	err := s.doRequest(ctx, http.MethodGet, s.collectionPath(""), nil, &resp)
	if err == nil && resp.Status == "ok" {
		s.ensured = true
		return nil
	}

	createReq := createCollectionRequest{
		Vectors: qdrantVectorParams{Size: s.vectorSize, Distance: s.distance},
	}
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath(""), createReq, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return rag.WrapError(rag.ErrVectorStore, nil, "create qdrant collection: "+resp.Error)
	}
	s.ensured = true
	return nil
}

func (s *QdrantVectorStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return rag.WrapError(rag.ErrVectorStore, err, "encode qdrant request")
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return rag.WrapError(rag.ErrVectorStore, err, "build qdrant request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return rag.WrapError(rag.ErrVectorStore, err, "call qdrant")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return rag.WrapError(rag.ErrCollectionNotFound, nil, s.collection)
	}
	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return rag.WrapError(rag.ErrVectorStore, nil,
			fmt.Sprintf("qdrant API error: %v (%d)", errBody["status"], resp.StatusCode))
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return rag.WrapError(rag.ErrVectorStore, err, "decode qdrant response")
	}
	return nil
}

func metadataAt(metadata []map[string]any, i int) map[string]any {
	if metadata == nil {
		return nil
	}
	return metadata[i]
}

// --- Qdrant API payloads ---

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type fieldMatch struct {
	Value any `json:"value"`
}

type fieldRange struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type qdrantCondition struct {
	Key   string      `json:"key,omitempty"`
	Match *fieldMatch `json:"match,omitempty"`
	Range *fieldRange `json:"range,omitempty"`
	HasID []string    `json:"has_id,omitempty"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must,omitempty"`
}

type deletePointsRequest struct {
	Points []string      `json:"points,omitempty"`
	Filter *qdrantFilter `json:"filter,omitempty"`
}

type searchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type searchResponse struct {
	Status string              `json:"status"`
	Result []searchResultEntry `json:"result"`
	Error  string              `json:"error"`
}

type searchResultEntry struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantOperationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type countRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
	Exact  bool          `json:"exact"`
}

type countResponse struct {
	Status string `json:"status"`
	Result struct {
		Count int64 `json:"count"`
	} `json:"result"`
	Error string `json:"error"`
}
