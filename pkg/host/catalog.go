package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// KnowledgeBase 是知识库及其插件组件绑定关系的宿主侧记录。
type KnowledgeBase struct {
	ID            string `json:"id" gorm:"primaryKey;size:64"`
	Name          string `json:"name" gorm:"size:255;not null"`
	ComponentName string `json:"componentName" gorm:"size:255;not null"`
	ComponentKind string `json:"componentKind" gorm:"size:50;not null"`

	// CollectionID is the vector store collection this knowledge
	// base (and its plugin instance) is scoped to.
	CollectionID string `json:"collectionId" gorm:"size:64;not null;uniqueIndex"`

	// Config 是已通过 schema 校验并补全默认值的创建配置
	Config datatypes.JSONMap `json:"config" gorm:"type:jsonb"`

	DocumentCount int `json:"documentCount" gorm:"default:0"`
	ChunkCount    int `json:"chunkCount" gorm:"default:0"`

	Status string `json:"status" gorm:"size:50;not null;default:active"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// 文档状态流转: pending -> processing -> indexed/failed。
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusIndexed    = "indexed"
	DocumentStatusFailed     = "failed"
)

// Document 是单个已入库文件的宿主侧记录。
type Document struct {
	ID              string `json:"id" gorm:"primaryKey;size:64"`
	KnowledgeBaseID string `json:"knowledgeBaseId" gorm:"size:64;not null;index"`

	FileName    string `json:"fileName" gorm:"size:500"`
	StoragePath string `json:"storagePath" gorm:"type:text;not null"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType" gorm:"size:100"`

	Status       string `json:"status" gorm:"size:50;not null;default:pending"`
	ChunkCount   int    `json:"chunkCount" gorm:"default:0"`
	ErrorMessage string `json:"errorMessage" gorm:"type:text"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// Catalog 知识库与文档的宿主侧元数据存储
type Catalog struct {
	db *gorm.DB
}

// NewCatalog 创建 catalog 并迁移表结构
func NewCatalog(db *gorm.DB) (*Catalog, error) {
	if err := db.AutoMigrate(&KnowledgeBase{}, &Document{}); err != nil {
		return nil, fmt.Errorf("migrate catalog tables: %w", err)
	}
	return &Catalog{db: db}, nil
}

// CreateKnowledgeBase 写入知识库记录
func (c *Catalog) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	if err := c.db.WithContext(ctx).Create(kb).Error; err != nil {
		return fmt.Errorf("create knowledge base record: %w", err)
	}
	return nil
}

// GetKnowledgeBase 查询知识库，未找到返回 rag.ErrCollectionNotFound
func (c *Catalog) GetKnowledgeBase(ctx context.Context, kbID string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := c.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", kbID).
		First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, rag.WrapError(rag.ErrCollectionNotFound, nil, fmt.Sprintf("knowledge base %q", kbID))
	}
	if err != nil {
		return nil, fmt.Errorf("query knowledge base: %w", err)
	}
	return &kb, nil
}

// DeleteKnowledgeBase 软删除知识库记录
func (c *Catalog) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	err := c.db.WithContext(ctx).
		Model(&KnowledgeBase{}).
		Where("id = ? AND deleted_at IS NULL", kbID).
		Updates(map[string]any{"deleted_at": time.Now(), "status": "deleted"}).Error
	if err != nil {
		return fmt.Errorf("delete knowledge base record: %w", err)
	}
	return nil
}

// CreateDocument 写入文档记录
func (c *Catalog) CreateDocument(ctx context.Context, doc *Document) error {
	if err := c.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document record: %w", err)
	}
	return nil
}

// GetDocument 查询文档
func (c *Catalog) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	var doc Document
	err := c.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", documentID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return &doc, nil
}

// ListDocuments 列出知识库下的文档
func (c *Catalog) ListDocuments(ctx context.Context, kbID string) ([]*Document, error) {
	var docs []*Document
	err := c.db.WithContext(ctx).
		Where("knowledge_base_id = ? AND deleted_at IS NULL", kbID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UpdateDocumentStatus 更新文档状态与错误信息
func (c *Catalog) UpdateDocumentStatus(ctx context.Context, documentID, status, errorMsg string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMsg != "" {
		updates["error_message"] = errorMsg
	}
	return c.db.WithContext(ctx).
		Model(&Document{}).
		Where("id = ?", documentID).
		Updates(updates).Error
}

// MarkDocumentIndexed 标记文档入库完成并同步统计
func (c *Catalog) MarkDocumentIndexed(ctx context.Context, kbID, documentID string, chunkCount int) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Document{}).
			Where("id = ?", documentID).
			Updates(map[string]any{
				"status":      DocumentStatusIndexed,
				"chunk_count": chunkCount,
				"updated_at":  time.Now(),
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&KnowledgeBase{}).
			Where("id = ?", kbID).
			Updates(map[string]any{
				"document_count": gorm.Expr("document_count + 1"),
				"chunk_count":    gorm.Expr("chunk_count + ?", chunkCount),
				"updated_at":     time.Now(),
			}).Error
	})
}

// RemoveDocument 软删除文档记录并回退统计
func (c *Catalog) RemoveDocument(ctx context.Context, kbID, documentID string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		err := tx.Where("id = ? AND deleted_at IS NULL", documentID).First(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		err = tx.Model(&Document{}).
			Where("id = ?", documentID).
			Update("deleted_at", time.Now()).Error
		if err != nil {
			return err
		}
		return tx.Model(&KnowledgeBase{}).
			Where("id = ?", kbID).
			Updates(map[string]any{
				"document_count": gorm.Expr("document_count - 1"),
				"chunk_count":    gorm.Expr("chunk_count - ?", doc.ChunkCount),
				"updated_at":     time.Now(),
			}).Error
	})
}
