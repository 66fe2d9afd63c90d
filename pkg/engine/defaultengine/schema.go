package defaultengine

import "github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"

var creationSchema = rag.SettingsSchema{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type":    "object",
	"properties": map[string]any{
		"index_mode": map[string]any{
			"type":        "string",
			"enum":        []any{"general", "qa", "parent_child"},
			"default":     "general",
			"description": "Index construction mode",
		},
		"chunk_size": map[string]any{
			"type":        "integer",
			"minimum":     100,
			"maximum":     2000,
			"default":     512,
			"description": "Chunk size in characters",
		},
		"chunk_overlap": map[string]any{
			"type":        "integer",
			"minimum":     0,
			"maximum":     500,
			"default":     50,
			"description": "Overlap between adjacent chunks in characters",
		},
	},
	"additionalProperties": false,
}

var retrievalSchema = rag.SettingsSchema{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type":    "object",
	"properties": map[string]any{
		"top_k": map[string]any{
			"type":        "integer",
			"minimum":     1,
			"maximum":     100,
			"default":     5,
			"description": "Maximum number of entries to return",
		},
		"similarity_threshold": map[string]any{
			"type":        "number",
			"minimum":     0,
			"maximum":     1,
			"default":     0.7,
			"description": "Minimum cosine similarity for a hit to be kept",
		},
		"enable_rerank": map[string]any{
			"type":        "boolean",
			"default":     false,
			"description": "Apply keyword reranking to the candidate set",
		},
	},
	"additionalProperties": false,
}

// CreationSettingsSchema 返回引擎的知识库创建 schema。
// 调用方拿到的是副本，原始文档不会被篡改。
func (e *Engine) CreationSettingsSchema() rag.SettingsSchema {
	return creationSchema.Clone()
}

// RetrievalSettingsSchema 返回引擎的检索设置 schema。
func (e *Engine) RetrievalSettingsSchema() rag.SettingsSchema {
	return retrievalSchema.Clone()
}
