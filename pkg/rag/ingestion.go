package rag

// FileObject 指向一个已存储的文件。StoragePath 是只有宿主存储子系统
// 能理解的不透明键，插件原样回传给 HostServices.GetFileStream。
type FileObject struct {
	StoragePath string `json:"storage_path"`
	FileName    string `json:"file_name"`
	Size        int64  `json:"size,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// ChunkingStrategy 配置引擎如何切分文档。引擎不认识的字段会被忽略，
// 零值表示"使用引擎默认值"。
type ChunkingStrategy struct {
	Name         string `json:"name,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

// IngestionContext 宿主在每次 Ingest 调用前构建、单次消费，
// 插件不得在调用结束后继续持有
type IngestionContext struct {
	KnowledgeBaseID  string           `json:"knowledge_base_id"`
	DocumentID       string           `json:"document_id"`
	FileObject       FileObject       `json:"file_object"`
	ChunkingStrategy ChunkingStrategy `json:"chunking_strategy"`
}

// IngestionStatus Ingest 调用的结果状态
type IngestionStatus string

const (
	IngestionSucceeded IngestionStatus = "succeeded"
	IngestionFailed    IngestionStatus = "failed"
)

// IngestionResult 在 Ingest 返回后归宿主所有。它必须如实反映向量
// 存储的调用后状态：succeeded 表示文档向量已写入且可查询，
// failed 表示本次尝试没有残留任何孤儿向量。
type IngestionResult struct {
	Status     IngestionStatus `json:"status"`
	DocumentID string          `json:"document_id"`
	ChunkCount int             `json:"chunk_count"`
	Message    string          `json:"message,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}
