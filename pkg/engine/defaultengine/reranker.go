package defaultengine

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// Reranker 对初步检索结果做二次排序
type Reranker interface {
	Rerank(ctx context.Context, query string, entries []rag.RetrievalResultEntry, topK int) ([]rag.RetrievalResultEntry, error)
}

// SimpleReranker 简单的重排序器 (基于关键词重叠度 + 位置权重)
type SimpleReranker struct {
	KeywordWeight  float64 // 关键词匹配权重
	PositionWeight float64 // 位置权重 (关键词在文档中的位置)
	LengthPenalty  float64 // 长度惩罚因子
}

// NewSimpleReranker 创建简单重排序器
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{
		KeywordWeight:  0.6,
		PositionWeight: 0.3,
		LengthPenalty:  0.1,
	}
}

// Rerank 对检索结果重排序并截断到 topK。
// 条目内容取自 metadata 的 content 字段，缺失时保留原始排序分数。
func (r *SimpleReranker) Rerank(ctx context.Context, query string, entries []rag.RetrievalResultEntry, topK int) ([]rag.RetrievalResultEntry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		if topK < len(entries) {
			return entries[:topK], nil
		}
		return entries, nil
	}

	scored := make([]rag.RetrievalResultEntry, len(entries))
	copy(scored, entries)
	for i := range scored {
		content, _ := scored[i].Metadata["content"].(string)
		if content == "" {
			continue
		}
		scored[i].Score = r.computeScore(queryTerms, content, scored[i].Score)
		scored[i].Distance = 1 - scored[i].Score
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > 0 && topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// computeScore 计算综合分数
func (r *SimpleReranker) computeScore(queryTerms []string, content string, originalScore float64) float64 {
	docTerms := tokenize(content)
	if len(docTerms) == 0 {
		return originalScore * 0.5
	}

	keywordScore := r.keywordMatchScore(queryTerms, docTerms)
	positionScore := r.positionScore(queryTerms, content)
	lengthScore := r.lengthScore(len(docTerms))

	rerankScore := r.KeywordWeight*keywordScore +
		r.PositionWeight*positionScore +
		r.LengthPenalty*lengthScore

	// 综合分数 = 原始分数 * 0.3 + 重排序分数 * 0.7
	return originalScore*0.3 + rerankScore*0.7
}

// keywordMatchScore 计算关键词匹配分数 (Jaccard + TF)
func (r *SimpleReranker) keywordMatchScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	docTermFreq := make(map[string]int)
	for _, term := range docTerms {
		docTermFreq[strings.ToLower(term)]++
	}

	matchCount := 0
	totalTF := 0.0
	for _, qTerm := range queryTerms {
		if freq, ok := docTermFreq[strings.ToLower(qTerm)]; ok {
			matchCount++
			totalTF += math.Log(1 + float64(freq))
		}
	}

	jaccard := float64(matchCount) / float64(len(queryTerms))
	return jaccard*0.5 + math.Min(totalTF/float64(len(queryTerms)), 1.0)*0.5
}

// positionScore 计算位置分数，关键词越靠前分数越高
func (r *SimpleReranker) positionScore(queryTerms []string, content string) float64 {
	if len(queryTerms) == 0 || len(content) == 0 {
		return 0
	}

	contentLower := strings.ToLower(content)
	totalScore := 0.0

	for _, term := range queryTerms {
		pos := strings.Index(contentLower, strings.ToLower(term))
		if pos >= 0 {
			posRatio := float64(pos) / float64(len(content))
			totalScore += math.Exp(-2 * posRatio)
		}
	}

	return totalScore / float64(len(queryTerms))
}

// lengthScore 计算长度分数，理想长度范围 50-500 词
func (r *SimpleReranker) lengthScore(docLength int) float64 {
	idealMin := 50
	idealMax := 500

	if docLength < idealMin {
		return float64(docLength) / float64(idealMin)
	}
	if docLength > idealMax {
		return float64(idealMax) / float64(docLength)
	}
	return 1.0
}

// tokenize 分词，中文字符单独作为 token
func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			current.WriteRune(r)
		default:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}
