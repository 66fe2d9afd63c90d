package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// vectorChunk 是 pgvector 存储的行模型。(collection_id, vector_id)
// 复合主键保证向量 id 在集合内唯一，重复 upsert 原地覆盖。
type vectorChunk struct {
	CollectionID string            `gorm:"column:collection_id;primaryKey;size:64"`
	VectorID     string            `gorm:"column:vector_id;primaryKey;size:64"`
	Embedding    pgvector.Vector   `gorm:"column:embedding;type:vector(1536)"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (vectorChunk) TableName() string { return "rag_vector_chunks" }

// pgCollection 记录已创建的集合，使 ErrCollectionNotFound 可判定。
type pgCollection struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (pgCollection) TableName() string { return "rag_collections" }

// PGVectorStore 基于 PostgreSQL pgvector 扩展的 rag.VectorStore 实现。
// 相似度约定：Score = 1 - (embedding <=> query)，即余弦相似度，
// 结果按 Score 降序返回。
type PGVectorStore struct {
	db *gorm.DB
}

// NewPGVectorStore 创建 pgvector 存储并确保扩展与表结构就绪
func NewPGVectorStore(db *gorm.DB) (*PGVectorStore, error) {
	store := &PGVectorStore{db: db}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, rag.WrapError(rag.ErrVectorStore, err, "enable pgvector extension")
	}
	if err := db.AutoMigrate(&pgCollection{}, &vectorChunk{}); err != nil {
		return nil, rag.WrapError(rag.ErrVectorStore, err, "migrate vector tables")
	}
	return store, nil
}

// CreateCollection 注册集合
func (s *PGVectorStore) CreateCollection(ctx context.Context, collectionID string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&pgCollection{ID: collectionID}).Error
	if err != nil {
		return rag.WrapError(rag.ErrVectorStore, err, "create collection")
	}
	return nil
}

// DropCollection 删除集合及其全部向量
func (s *PGVectorStore) DropCollection(ctx context.Context, collectionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", collectionID).Delete(&vectorChunk{}).Error; err != nil {
			return rag.WrapError(rag.ErrVectorStore, err, "drop collection vectors")
		}
		if err := tx.Where("id = ?", collectionID).Delete(&pgCollection{}).Error; err != nil {
			return rag.WrapError(rag.ErrVectorStore, err, "drop collection")
		}
		return nil
	})
}

func (s *PGVectorStore) ensureCollection(ctx context.Context, tx *gorm.DB, collectionID string) error {
	var coll pgCollection
	err := tx.WithContext(ctx).Where("id = ?", collectionID).First(&coll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rag.WrapError(rag.ErrCollectionNotFound, nil, collectionID)
	}
	if err != nil {
		return rag.WrapError(rag.ErrVectorStore, err, "look up collection")
	}
	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, collectionID string, ids []string, vectors [][]float32, metadata []map[string]any) error {
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
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureCollection(ctx, tx, collectionID); err != nil {
			return err
		}
		rows := make([]vectorChunk, len(ids))
		for i, id := range ids {
			rows[i] = vectorChunk{
				CollectionID: collectionID,
				VectorID:     id,
				Embedding:    pgvector.NewVector(vectors[i]),
			}
			if metadata != nil {
				rows[i].Metadata = datatypes.JSONMap(metadata[i])
			}
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection_id"}, {Name: "vector_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding", "metadata"}),
		}).Create(&rows).Error
		if err != nil {
			return rag.WrapError(rag.ErrVectorStore, err, "upsert vectors")
		}
		return nil
	})
}

func (s *PGVectorStore) Search(ctx context.Context, collectionID string, queryVector []float32, topK int, filters map[string]any) ([]rag.SearchHit, error) {
	if len(queryVector) == 0 {
		return nil, rag.WrapError(rag.ErrVectorStore, nil, "query vector is empty")
	}
	if topK <= 0 {
		topK = 5
	}
	if err := s.ensureCollection(ctx, s.db, collectionID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Model(&vectorChunk{}).
		Select("vector_id, metadata, 1 - (embedding <=> ?) AS score", pgvector.NewVector(queryVector)).
		Where("collection_id = ?", collectionID)
	query, err := applyJSONFilters(query, filters)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		VectorID string            `gorm:"column:vector_id"`
		Metadata datatypes.JSONMap `gorm:"column:metadata"`
		Score    float64           `gorm:"column:score"`
	}
	err = query.
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []any{pgvector.NewVector(queryVector)}}}).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, rag.WrapError(rag.ErrVectorStore, err, "vector search")
	}

	hits := make([]rag.SearchHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, rag.SearchHit{
			ID:       row.VectorID,
			Score:    row.Score,
			Metadata: map[string]any(row.Metadata),
		})
	}
	return hits, nil
}

func (s *PGVectorStore) Delete(ctx context.Context, collectionID string, ids []string, filters map[string]any) (int, error) {
	if err := s.ensureCollection(ctx, s.db, collectionID); err != nil {
		return 0, err
	}
	if len(ids) == 0 && filters == nil {
		return 0, nil
	}

	query := s.db.WithContext(ctx).Where("collection_id = ?", collectionID)
	// 并集语义：id 命中或 filter 命中都删
	switch {
	case len(ids) > 0 && filters != nil:
		filterSQL, filterVars, err := jsonFilterConditions(filters)
		if err != nil {
			return 0, err
		}
		vars := append([]any{ids}, filterVars...)
		query = query.Where("(vector_id IN ? OR ("+filterSQL+"))", vars...)
	case len(ids) > 0:
		query = query.Where("vector_id IN ?", ids)
	default:
		var err error
		query, err = applyJSONFilters(query, filters)
		if err != nil {
			return 0, err
		}
	}

	result := query.Delete(&vectorChunk{})
	if result.Error != nil {
		return 0, rag.WrapError(rag.ErrVectorStore, result.Error, "delete vectors")
	}
	return int(result.RowsAffected), nil
}

func (s *PGVectorStore) Count(ctx context.Context, collectionID string, filters map[string]any) (int, error) {
	if err := s.ensureCollection(ctx, s.db, collectionID); err != nil {
		return 0, err
	}
	query := s.db.WithContext(ctx).Model(&vectorChunk{}).Where("collection_id = ?", collectionID)
	query, err := applyJSONFilters(query, filters)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, rag.WrapError(rag.ErrVectorStore, err, "count vectors")
	}
	return int(n), nil
}

func applyJSONFilters(query *gorm.DB, filters map[string]any) (*gorm.DB, error) {
	if filters == nil {
		return query, nil
	}
	sql, vars, err := jsonFilterConditions(filters)
	if err != nil {
		return nil, err
	}
	return query.Where(sql, vars...), nil
}

// jsonFilterConditions 把 filter map 转为 jsonb 条件。等值用文本比较，
// 范围谓词用数值 cast。
func jsonFilterConditions(filters map[string]any) (string, []any, error) {
	sql := ""
	var vars []any
	for key, want := range filters {
		if sql != "" {
			sql += " AND "
		}
		if bounds, isRange := want.(map[string]any); isRange {
			rangeSQL := ""
			for op, raw := range bounds {
				cmp, ok := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
				if !ok {
					return "", nil, rag.WrapError(rag.ErrVectorStore, nil,
						fmt.Sprintf("unsupported filter operator %q", op))
				}
				if rangeSQL != "" {
					rangeSQL += " AND "
				}
				rangeSQL += "(metadata ->> ?)::numeric " + cmp + " ?"
				vars = append(vars, key, raw)
			}
			sql += "(" + rangeSQL + ")"
			continue
		}
		sql += "metadata ->> ? = ?"
		vars = append(vars, key, fmt.Sprintf("%v", want))
	}
	return sql, vars, nil
}
