package rag

import "context"

// ComponentKind 组件类别标签，宿主按它分发调用，无需检查具体类型
type ComponentKind string

const (
	KindKnowledgeRetriever ComponentKind = "KnowledgeRetriever"
	KindRAGEngine          ComponentKind = "RAGEngine"
)

// Component 所有插件组件共享的最小接口
type Component interface {
	Kind() ComponentKind
}

// KnowledgeRetriever 旧式只读检索组件。
//
// 没有入库能力、生命周期钩子和 schema 声明，宿主必须把它的配置当作
// 不透明数据原样保存。新插件应实现 RAGEngine。
type KnowledgeRetriever interface {
	Component

	// Retrieve 返回按 Distance 升序（最相似在前）排列的条目，
	// 除非实现另有说明。
	Retrieve(ctx context.Context, rctx *RetrievalContext) ([]RetrievalResultEntry, error)
}

// RAGEngine 完整生命周期的 RAG 组件。一个引擎实例通过构造时注入的
// HostServices 绑定到一个知识库，生命周期由宿主驱动：
//
//	absent --OnKnowledgeBaseCreate--> created/active
//	active: Ingest / Retrieve / DeleteDocument 任意顺序反复调用
//	active --OnKnowledgeBaseDelete--> deleted（终态）
//
// 契约层不负责串行化冲突的状态转移，这是宿主的职责（见 host.Manager）。
type RAGEngine interface {
	Component

	// OnKnowledgeBaseCreate 在使用本引擎的知识库创建时调用。
	// config 已由宿主按 CreationSettingsSchema 校验过。可选实现，
	// 嵌入 BaseEngine 可获得空操作默认值。
	OnKnowledgeBaseCreate(ctx context.Context, kbID string, config map[string]any) error

	// OnKnowledgeBaseDelete 在知识库删除时调用。引擎只清理自己的
	// 附属状态：集合向量由宿主负责删除，引擎既不能假设它们已经
	// 不在，也不被依赖去删除它们。
	OnKnowledgeBaseDelete(ctx context.Context, kbID string) error

	// Ingest 读取 ictx 引用的文件，解析分块后嵌入并通过
	// HostServices 写入向量。调用期间打开的文件流必须在每条退出
	// 路径上释放；失败的尝试写入的向量必须在错误返回前回滚。
	Ingest(ctx context.Context, ictx *IngestionContext) (*IngestionResult, error)

	// DeleteDocument 删除 documentID 对应的全部向量及引擎私有记录。
	// 仅当文档确实存在时返回 true；"无可删除"不是错误。
	DeleteDocument(ctx context.Context, kbID, documentID string) (bool, error)

	// Retrieve 嵌入查询、搜索绑定集合并组装结构化响应，可选重排序
	Retrieve(ctx context.Context, rctx *RetrievalContext) (*RetrievalResponse, error)

	// CreationSettingsSchema 与 RetrievalSettingsSchema 是纯函数，
	// 可随时调用。同一引擎版本必须始终返回结构一致的 schema，
	// 保证已持久化的配置跨宿主重启仍然有效。
	CreationSettingsSchema() SettingsSchema
	RetrievalSettingsSchema() SettingsSchema
}

// BaseEngine 为 RAGEngine 的可选接口提供空操作默认实现，
// 引擎嵌入它后只需覆盖自己需要的钩子
type BaseEngine struct{}

func (BaseEngine) Kind() ComponentKind { return KindRAGEngine }

func (BaseEngine) OnKnowledgeBaseCreate(ctx context.Context, kbID string, config map[string]any) error {
	return nil
}

func (BaseEngine) OnKnowledgeBaseDelete(ctx context.Context, kbID string) error {
	return nil
}
