package rag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetrievalSettingsAccessors(t *testing.T) {
	s := RetrievalSettings{
		"top_k":                float64(8), // JSON 解码后的形态
		"similarity_threshold": 0.4,
		"enable_rerank":        true,
	}
	require.Equal(t, 8, s.TopK(5))
	require.Equal(t, 0.4, s.SimilarityThreshold(0.7))
	require.True(t, s.RerankEnabled())

	empty := RetrievalSettings{}
	require.Equal(t, 5, empty.TopK(5))
	require.Equal(t, 0.7, empty.SimilarityThreshold(0.7))
	require.False(t, empty.RerankEnabled())

	// 非法取值退回默认
	bad := RetrievalSettings{"top_k": -1, "enable_rerank": "yes"}
	require.Equal(t, 5, bad.TopK(5))
	require.False(t, bad.RerankEnabled())
}
