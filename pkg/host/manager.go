package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/logger"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/metrics"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// CollectionManager 由需要显式建集合的向量存储实现。
// 未实现的存储把集合当作隐式命名空间。
type CollectionManager interface {
	CreateCollection(ctx context.Context, collectionID string) error
	DropCollection(ctx context.Context, collectionID string) error
}

// Manager 在插件契约之上驱动知识库生命周期:持有目录记录、
// 开通集合、用按集合隔离的服务实例化组件,
// 并按知识库串行化各类变更操作。
type Manager struct {
	registry *rag.Registry
	catalog  *Catalog
	embedder rag.Embedder
	store    rag.VectorStore
	files    FileService

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	instances map[string]managedInstance
}

type managedInstance struct {
	component rag.Component
	services  *Services
}

// NewManager 在给定的宿主能力之上组装生命周期管理器。
func NewManager(registry *rag.Registry, catalog *Catalog, embedder rag.Embedder, store rag.VectorStore, files FileService) *Manager {
	return &Manager{
		registry:  registry,
		catalog:   catalog,
		embedder:  embedder,
		store:     store,
		files:     files,
		locks:     make(map[string]*sync.Mutex),
		instances: make(map[string]managedInstance),
	}
}

// lockFor 返回指定知识库的互斥锁，变更操作按知识库串行化
func (m *Manager) lockFor(kbID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[kbID]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[kbID] = l
	return l
}

// CreateKnowledgeBase 用组件的创建 schema 校验 config,开通集合,
// 执行创建钩子并持久化记录。只有钩子无错返回后组件才进入激活状态。
func (m *Manager) CreateKnowledgeBase(ctx context.Context, name, componentName string, config map[string]any) (*KnowledgeBase, error) {
	kind, ok := m.registry.Kind(componentName)
	if !ok {
		return nil, rag.WrapError(rag.ErrHostService, nil, fmt.Sprintf("unknown component %q", componentName))
	}

	kbID := uuid.New().String()
	collectionID := "kb_" + kbID

	services := NewServices(collectionID, m.embedder, m.store, m.files)

	var component rag.Component
	var applied map[string]any
	switch kind {
	case rag.KindRAGEngine:
		engine, err := m.registry.NewEngine(componentName, services)
		if err != nil {
			return nil, err
		}
		schema := engine.CreationSettingsSchema()
		if err := schema.Validate(config); err != nil {
			return nil, rag.WrapError(rag.ErrHostService, err, "creation settings rejected")
		}
		applied = schema.ApplyDefaults(config)
		component = engine
	case rag.KindKnowledgeRetriever:
		// 旧式检索器没有创建 schema，配置原样保存
		retriever, err := m.registry.NewRetriever(componentName, services)
		if err != nil {
			return nil, err
		}
		applied = config
		component = retriever
	default:
		return nil, rag.WrapError(rag.ErrHostService, nil, fmt.Sprintf("unsupported component kind %q", kind))
	}

	if cm, ok := m.store.(CollectionManager); ok {
		if err := cm.CreateCollection(ctx, collectionID); err != nil {
			return nil, rag.WrapError(rag.ErrVectorStore, err, "provision collection")
		}
	}

	if engine, ok := component.(rag.RAGEngine); ok {
		if err := engine.OnKnowledgeBaseCreate(ctx, kbID, applied); err != nil {
			// 钩子失败回收集合，知识库保持不存在
			if cm, ok := m.store.(CollectionManager); ok {
				_ = cm.DropCollection(ctx, collectionID)
			}
			metrics.KnowledgeBasesTotal.WithLabelValues(componentName, "create", "error").Inc()
			return nil, rag.WrapError(rag.ErrHostService, err, "creation hook failed")
		}
	}

	kb := &KnowledgeBase{
		ID:            kbID,
		Name:          name,
		ComponentName: componentName,
		ComponentKind: string(kind),
		CollectionID:  collectionID,
		Config:        datatypes.JSONMap(applied),
		Status:        "active",
	}
	if err := m.catalog.CreateKnowledgeBase(ctx, kb); err != nil {
		if cm, ok := m.store.(CollectionManager); ok {
			_ = cm.DropCollection(ctx, collectionID)
		}
		return nil, err
	}

	m.mu.Lock()
	m.instances[kbID] = managedInstance{component: component, services: services}
	m.mu.Unlock()

	metrics.KnowledgeBasesTotal.WithLabelValues(componentName, "create", "success").Inc()
	logger.WithContext(ctx).Info("知识库已创建",
		zap.String("kb_id", kbID),
		zap.String("component", componentName),
		zap.String("kind", string(kind)))
	return kb, nil
}

// instanceFor returns the live component bound to a knowledge base,
// rebuilding it from the catalog record after a host restart.
func (m *Manager) instanceFor(ctx context.Context, kbID string) (*KnowledgeBase, managedInstance, error) {
	kb, err := m.catalog.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, managedInstance{}, err
	}

	m.mu.Lock()
	inst, ok := m.instances[kbID]
	m.mu.Unlock()
	if ok {
		return kb, inst, nil
	}

	services := NewServices(kb.CollectionID, m.embedder, m.store, m.files)
	var component rag.Component
	switch rag.ComponentKind(kb.ComponentKind) {
	case rag.KindRAGEngine:
		component, err = m.registry.NewEngine(kb.ComponentName, services)
	case rag.KindKnowledgeRetriever:
		component, err = m.registry.NewRetriever(kb.ComponentName, services)
	default:
		err = fmt.Errorf("catalog record has unknown component kind %q", kb.ComponentKind)
	}
	if err != nil {
		return nil, managedInstance{}, rag.WrapError(rag.ErrHostService, err, "rebuild component instance")
	}

	inst = managedInstance{component: component, services: services}
	m.mu.Lock()
	m.instances[kbID] = inst
	m.mu.Unlock()
	return kb, inst, nil
}

// IngestDocument 把文件交给知识库的引擎处理。
// 文档记录按 pending -> processing -> indexed/failed 流转,
// 入库失败不会把记录留在 processing。
func (m *Manager) IngestDocument(ctx context.Context, kbID string, file rag.FileObject, strategy rag.ChunkingStrategy) (*Document, error) {
	lock := m.lockFor(kbID)
	lock.Lock()
	defer lock.Unlock()

	kb, inst, err := m.instanceFor(ctx, kbID)
	if err != nil {
		return nil, err
	}
	engine, ok := inst.component.(rag.RAGEngine)
	if !ok {
		return nil, rag.WrapError(rag.ErrIngestion, nil,
			fmt.Sprintf("component %q is a retriever and does not accept documents", kb.ComponentName))
	}

	doc := &Document{
		ID:              uuid.New().String(),
		KnowledgeBaseID: kbID,
		FileName:        file.FileName,
		StoragePath:     file.StoragePath,
		FileSize:        file.Size,
		MimeType:        file.MimeType,
		Status:          DocumentStatusPending,
	}
	if err := m.catalog.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := m.catalog.UpdateDocumentStatus(ctx, doc.ID, DocumentStatusProcessing, ""); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := engine.Ingest(ctx, &rag.IngestionContext{
		KnowledgeBaseID:  kbID,
		DocumentID:       doc.ID,
		FileObject:       file,
		ChunkingStrategy: strategy,
	})
	elapsed := time.Since(start)
	metrics.IngestionDuration.WithLabelValues(kb.ComponentName).Observe(elapsed.Seconds())

	if err != nil || result == nil || result.Status != rag.IngestionSucceeded {
		msg := "ingestion returned no result"
		if err != nil {
			msg = err.Error()
		} else if result != nil {
			msg = result.Message
		}
		_ = m.catalog.UpdateDocumentStatus(ctx, doc.ID, DocumentStatusFailed, msg)
		metrics.IngestionsTotal.WithLabelValues(kb.ComponentName, "error").Inc()
		logger.WithContext(ctx).Error("文档入库失败",
			zap.String("kb_id", kbID),
			zap.String("document_id", doc.ID),
			zap.String("error", msg))
		if err != nil {
			return nil, err
		}
		return nil, rag.WrapError(rag.ErrIngestion, nil, msg)
	}

	if err := m.catalog.MarkDocumentIndexed(ctx, kbID, doc.ID, result.ChunkCount); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatusIndexed
	doc.ChunkCount = result.ChunkCount

	metrics.IngestionsTotal.WithLabelValues(kb.ComponentName, "success").Inc()
	metrics.IngestedChunks.WithLabelValues(kb.ComponentName).Observe(float64(result.ChunkCount))
	logger.WithContext(ctx).Info("文档入库完成",
		zap.String("kb_id", kbID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", result.ChunkCount),
		zap.Duration("elapsed", elapsed))
	return doc, nil
}

// Retrieve 用组件的检索 schema 校验 settings,再按组件类别分发。
// 旧式检索器的结果会包装成引擎风格的响应。
func (m *Manager) Retrieve(ctx context.Context, kbID, query string, settings rag.RetrievalSettings) (*rag.RetrievalResponse, error) {
	kb, inst, err := m.instanceFor(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = rag.RetrievalSettings{}
	}

	start := time.Now()
	var resp *rag.RetrievalResponse

	switch component := inst.component.(type) {
	case rag.RAGEngine:
		schema := component.RetrievalSettingsSchema()
		if err := schema.Validate(map[string]any(settings)); err != nil {
			return nil, rag.WrapError(rag.ErrRetrieval, err, "retrieval settings rejected")
		}
		settings = rag.RetrievalSettings(schema.ApplyDefaults(map[string]any(settings)))
		resp, err = component.Retrieve(ctx, &rag.RetrievalContext{
			Query:           query,
			KnowledgeBaseID: kbID,
			Settings:        settings,
		})
	case rag.KnowledgeRetriever:
		var entries []rag.RetrievalResultEntry
		entries, err = component.Retrieve(ctx, &rag.RetrievalContext{
			Query:           query,
			KnowledgeBaseID: kbID,
			Settings:        settings,
		})
		if err == nil {
			resp = &rag.RetrievalResponse{Entries: entries, Elapsed: time.Since(start)}
		}
	default:
		err = rag.WrapError(rag.ErrRetrieval, nil, fmt.Sprintf("component %q cannot retrieve", kb.ComponentName))
	}

	if err == nil && resp == nil {
		err = rag.WrapError(rag.ErrRetrieval, nil,
			fmt.Sprintf("component %q returned no response", kb.ComponentName))
	}
	if err != nil {
		metrics.RetrievalsTotal.WithLabelValues(kb.ComponentName, "error").Inc()
		return nil, err
	}

	metrics.RetrievalsTotal.WithLabelValues(kb.ComponentName, "success").Inc()
	metrics.RetrievalDuration.WithLabelValues(kb.ComponentName).Observe(time.Since(start).Seconds())
	metrics.RetrievalResults.WithLabelValues(kb.ComponentName).Observe(float64(len(resp.Entries)))
	return resp, nil
}

// DeleteDocument 删除单个文档的分块及其目录记录。
// 删除未知文档返回 found=false,不报错。
func (m *Manager) DeleteDocument(ctx context.Context, kbID, documentID string) (bool, error) {
	lock := m.lockFor(kbID)
	lock.Lock()
	defer lock.Unlock()

	kb, inst, err := m.instanceFor(ctx, kbID)
	if err != nil {
		return false, err
	}
	engine, ok := inst.component.(rag.RAGEngine)
	if !ok {
		return false, rag.WrapError(rag.ErrHostService, nil,
			fmt.Sprintf("component %q is a retriever and does not manage documents", kb.ComponentName))
	}

	found, err := engine.DeleteDocument(ctx, kbID, documentID)
	if err != nil {
		return false, err
	}
	if _, err := m.catalog.GetDocument(ctx, documentID); err == nil {
		if err := m.catalog.RemoveDocument(ctx, kbID, documentID); err != nil {
			return found, err
		}
		found = true
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return found, err
	}
	return found, nil
}

// DeleteKnowledgeBase 执行删除钩子、丢弃集合并下线记录。
// 删除未知知识库返回 ErrCollectionNotFound。
func (m *Manager) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	lock := m.lockFor(kbID)
	lock.Lock()
	defer lock.Unlock()

	kb, inst, err := m.instanceFor(ctx, kbID)
	if err != nil {
		return err
	}

	if engine, ok := inst.component.(rag.RAGEngine); ok {
		if err := engine.OnKnowledgeBaseDelete(ctx, kbID); err != nil {
			// 钩子失败记录但不阻断删除，宿主负责兜底清理
			logger.WithContext(ctx).Warn("删除钩子执行失败",
				zap.String("kb_id", kbID), zap.Error(err))
		}
	}

	if cm, ok := m.store.(CollectionManager); ok {
		if err := cm.DropCollection(ctx, kb.CollectionID); err != nil && !errors.Is(err, rag.ErrCollectionNotFound) {
			return rag.WrapError(rag.ErrVectorStore, err, "drop collection")
		}
	}

	if err := m.catalog.DeleteKnowledgeBase(ctx, kbID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.instances, kbID)
	m.mu.Unlock()

	metrics.KnowledgeBasesTotal.WithLabelValues(kb.ComponentName, "delete", "success").Inc()
	logger.WithContext(ctx).Info("知识库已删除", zap.String("kb_id", kbID))
	return nil
}

// GetKnowledgeBase 查询知识库记录
func (m *Manager) GetKnowledgeBase(ctx context.Context, kbID string) (*KnowledgeBase, error) {
	return m.catalog.GetKnowledgeBase(ctx, kbID)
}

// ListDocuments 列出知识库下的文档记录
func (m *Manager) ListDocuments(ctx context.Context, kbID string) ([]*Document, error) {
	if _, err := m.catalog.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	return m.catalog.ListDocuments(ctx, kbID)
}
