package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/config"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/infra"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/logger"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/engine/defaultengine"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/host"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// raghost 是演示用宿主：加载配置、注册默认引擎，
// 然后对示例文档跑一遍完整的入库-检索-删除流程。
func main() {
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("指标服务已启动", zap.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("指标服务退出", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()
	if err := run(ctx, cfg); err != nil {
		logger.Error("运行失败", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := buildVectorStore(cfg, embedder)
	if err != nil {
		return err
	}

	db, err := infra.OpenCatalogDB(&cfg.Database, "raghost.db")
	if err != nil {
		return err
	}
	catalog, err := host.NewCatalog(db)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Files.Root, 0755); err != nil {
		return fmt.Errorf("创建存储目录: %w", err)
	}
	files := host.NewLocalFileService(cfg.Files.Root)

	registry := rag.NewRegistry()
	if err := defaultengine.Register(registry); err != nil {
		return err
	}

	manager := host.NewManager(registry, catalog, embedder, store, files)

	return demo(ctx, manager, cfg.Files.Root)
}

// demo 对一篇示例文档执行完整生命周期
func demo(ctx context.Context, manager *host.Manager, storageRoot string) error {
	sample := "sample.md"
	content := "LangBot 插件通过宿主注入的能力访问向量存储。" +
		"引擎负责解析、分块和嵌入文档。检索时按余弦相似度排序返回结果。\n" +
		"Plugins reach the vector store only through host services. " +
		"The engine parses, chunks and embeds documents. " +
		"Retrieval returns entries ordered by cosine similarity."
	if err := os.WriteFile(filepath.Join(storageRoot, sample), []byte(content), 0644); err != nil {
		return fmt.Errorf("写入示例文档: %w", err)
	}

	kb, err := manager.CreateKnowledgeBase(ctx, "demo", defaultengine.Name, map[string]any{
		"chunk_size": 200,
	})
	if err != nil {
		return err
	}

	doc, err := manager.IngestDocument(ctx, kb.ID, rag.FileObject{
		StoragePath: sample,
		FileName:    sample,
		Size:        int64(len(content)),
		MimeType:    "text/markdown",
	}, rag.ChunkingStrategy{ChunkSize: 200, ChunkOverlap: 20})
	if err != nil {
		return err
	}
	logger.Info("入库完成", zap.String("document_id", doc.ID), zap.Int("chunks", doc.ChunkCount))

	resp, err := manager.Retrieve(ctx, kb.ID, "插件如何访问向量存储", rag.RetrievalSettings{
		"top_k":                3,
		"similarity_threshold": 0.0,
	})
	if err != nil {
		return err
	}
	for i, entry := range resp.Entries {
		fmt.Printf("%d. score=%.4f %v\n", i+1, entry.Score, entry.Metadata["content"])
	}
	logger.Info("检索完成",
		zap.Int("entries", len(resp.Entries)),
		zap.Duration("elapsed", resp.Elapsed))

	if _, err := manager.DeleteDocument(ctx, kb.ID, doc.ID); err != nil {
		return err
	}
	return manager.DeleteKnowledgeBase(ctx, kb.ID)
}

func buildEmbedder(ctx context.Context, cfg *config.Config) (rag.Embedder, error) {
	if cfg.Embedding.APIKey == "" {
		logger.Warn("未配置嵌入 API key，使用本地 hash embedder")
		return host.NewHashEmbedder(128), nil
	}

	var embedder rag.Embedder = host.NewOpenAIEmbedder(host.OpenAIEmbedderOptions{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
	})

	if cfg.Cache.Enabled {
		var redisClient *redis.Client
		if cfg.Redis.Enabled {
			client, err := infra.NewRedisClient(ctx, &cfg.Redis)
			if err != nil {
				logger.Warn("Redis 不可用，嵌入缓存退回本地模式", zap.Error(err))
			} else {
				redisClient = client
			}
		}
		ttl, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			ttl = 30 * 24 * time.Hour
		}
		cache := host.NewEmbeddingCache(redisClient, cfg.Cache.Prefix, ttl)
		embedder = host.NewCachedEmbedder(embedder, cache, cfg.Embedding.Model)
	}

	return embedder, nil
}

func buildVectorStore(cfg *config.Config, embedder rag.Embedder) (rag.VectorStore, error) {
	switch cfg.VectorStore.Type {
	case "", "memory":
		return host.NewMemoryVectorStore(), nil
	case "pgvector":
		db, err := infra.OpenPostgres(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return host.NewPGVectorStore(db)
	case "qdrant":
		return host.NewQdrantVectorStore(host.QdrantOptions{
			Endpoint:        cfg.VectorStore.Qdrant.Endpoint,
			APIKey:          cfg.VectorStore.Qdrant.APIKey,
			Collection:      cfg.VectorStore.Qdrant.Collection,
			VectorDimension: cfg.VectorStore.Qdrant.VectorDimension,
			TimeoutSeconds:  cfg.VectorStore.Qdrant.TimeoutSeconds,
		})
	default:
		return nil, fmt.Errorf("未知的向量存储类型 %q", cfg.VectorStore.Type)
	}
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 4; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("已加载环境变量文件: %s\n", path)
			}
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
