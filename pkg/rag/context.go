package rag

import "time"

// RetrievalSettings 引擎自定义的自由格式查询选项。合法键由引擎的
// 检索设置 schema 声明；宿主在调用前已完成校验，访问器只需做类型
// 归一和默认值兜底。
type RetrievalSettings map[string]any

// TopK 返回请求的结果数量，未设置时返回 def
func (s RetrievalSettings) TopK(def int) int {
	if v, ok := s["top_k"]; ok {
		switch n := v.(type) {
		case int:
			if n > 0 {
				return n
			}
		case float64:
			if n > 0 {
				return int(n)
			}
		}
	}
	return def
}

// SimilarityThreshold 返回可接受的最低相似度，未设置时返回 def
func (s RetrievalSettings) SimilarityThreshold(def float64) float64 {
	if v, ok := s["similarity_threshold"]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// RerankEnabled 判断是否请求了重排序
func (s RetrievalSettings) RerankEnabled() bool {
	v, ok := s["enable_rerank"].(bool)
	return ok && v
}

// RetrievalContext 宿主为每次查询构建，对插件只读
type RetrievalContext struct {
	Query           string            `json:"query"`
	KnowledgeBaseID string            `json:"knowledge_base_id"`
	Settings        RetrievalSettings `json:"settings,omitempty"`
}

// RetrievalResultEntry 单条不可变的检索命中。
//
// Score 为相似度（越大越相似），Distance = 1-Score，
// 因此按 Distance 升序的旧消费方和按 Score 降序的新消费方
// 得到相同的排序。
type RetrievalResultEntry struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float64        `json:"distance"`
	Score    float64        `json:"score"`
}

// RetrievalResponse RAGEngine.Retrieve 的结构化结果，
// 取代旧接口返回的裸条目列表
type RetrievalResponse struct {
	Entries       []RetrievalResultEntry `json:"entries"`
	Elapsed       time.Duration          `json:"elapsed"`
	RerankApplied bool                   `json:"rerank_applied"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
}
