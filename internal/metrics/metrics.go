package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 知识库生命周期指标
var (
	// KnowledgeBasesTotal 知识库操作总数
	KnowledgeBasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langbot_rag_knowledge_bases_total",
			Help: "知识库生命周期操作总数",
		},
		[]string{"component", "operation", "status"},
	)

	// IngestionsTotal 文档入库总数
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langbot_rag_ingestions_total",
			Help: "文档入库总数",
		},
		[]string{"component", "status"},
	)

	// IngestionDuration 文档入库耗时（秒）
	IngestionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "langbot_rag_ingestion_duration_seconds",
			Help:    "文档入库耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"component"},
	)

	// IngestedChunks 单次入库产生的分块数量
	IngestedChunks = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "langbot_rag_ingested_chunks",
			Help:    "单次入库产生的分块数量分布",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"component"},
	)
)

// 检索指标
var (
	// RetrievalsTotal 检索请求总数
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langbot_rag_retrievals_total",
			Help: "检索请求总数",
		},
		[]string{"component", "status"},
	)

	// RetrievalDuration 检索耗时（秒）
	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "langbot_rag_retrieval_duration_seconds",
			Help:    "检索耗时分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	// RetrievalResults 单次检索返回的条目数量
	RetrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "langbot_rag_retrieval_results",
			Help:    "单次检索返回条目数量分布",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50, 100},
		},
		[]string{"component"},
	)
)

// 向量与嵌入指标
var (
	// EmbeddingRequestsTotal 嵌入请求总数
	EmbeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langbot_rag_embedding_requests_total",
			Help: "嵌入请求总数",
		},
		[]string{"model", "status"},
	)

	// EmbeddingCacheHits 嵌入缓存命中数
	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langbot_rag_embedding_cache_hits_total",
			Help: "嵌入缓存命中总数",
		},
		[]string{"level"},
	)

	// OpenFileStreams 当前打开的文件流数量
	OpenFileStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "langbot_rag_open_file_streams",
			Help: "当前打开的文件流数量",
		},
	)
)
