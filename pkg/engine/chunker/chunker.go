// Package chunker 把解析出的文档文本按句子边界切成带重叠的分块。
package chunker

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Chunker 文档分块器
type Chunker struct {
	ChunkSize    int // 分块大小(字符数)
	ChunkOverlap int // 重叠大小(字符数)
}

// New 创建新的分块器
// chunkSize: 每个分块的字符数
// chunkOverlap: 相邻分块之间的重叠字符数
func New(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10 // 重叠不超过10%
	}

	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}
}

// Chunk 分块结果
type Chunk struct {
	Content     string // 分块内容
	Index       int    // 分块索引(从0开始)
	TokenCount  int    // Token数量
	ContentHash string // 内容哈希(SHA256)
}

// Split 对文档进行分块
func (c *Chunker) Split(content string) ([]*Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("文档内容不能为空")
	}

	// 规范化文本(去除多余空白)
	content = normalizeText(content)

	// 按句子分割
	sentences := splitIntoSentences(content)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("文档没有有效句子")
	}

	chunks := make([]*Chunk, 0)
	currentChunk := ""
	chunkIndex := 0

	for _, sentence := range sentences {
		if len(currentChunk)+len(sentence) > c.ChunkSize && currentChunk != "" {
			chunks = append(chunks, c.newChunk(currentChunk, chunkIndex))
			chunkIndex++

			// 开始新分块,保留重叠部分
			overlap := c.overlapText(currentChunk)
			if overlap != "" {
				currentChunk = overlap + " " + sentence
			} else {
				currentChunk = sentence
			}
		} else {
			if currentChunk != "" {
				currentChunk += " "
			}
			currentChunk += sentence
		}
	}

	if currentChunk != "" {
		chunks = append(chunks, c.newChunk(currentChunk, chunkIndex))
	}

	return chunks, nil
}

// SplitFixed 按固定大小分块,不考虑句子边界
func (c *Chunker) SplitFixed(content string) []*Chunk {
	if content == "" {
		return nil
	}

	step := c.ChunkSize - c.ChunkOverlap
	if step <= 0 {
		step = c.ChunkSize
	}

	chunks := make([]*Chunk, 0)
	runes := []rune(content)
	index := 0

	for start := 0; start < len(runes); start += step {
		end := start + c.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, c.newChunk(string(runes[start:end]), index))
		index++

		if end >= len(runes) {
			break
		}
	}

	return chunks
}

func (c *Chunker) newChunk(content string, index int) *Chunk {
	content = strings.TrimSpace(content)
	return &Chunk{
		Content:     content,
		Index:       index,
		TokenCount:  CountTokens(content),
		ContentHash: hashContent(content),
	}
}

// overlapText 从文本末尾取重叠部分,尽量从完整单词开始。
// 按 rune 截取,避免在多字节字符中间切断。
func (c *Chunker) overlapText(text string) string {
	runes := []rune(text)
	if c.ChunkOverlap == 0 || len(runes) <= c.ChunkOverlap {
		return ""
	}

	overlap := string(runes[len(runes)-c.ChunkOverlap:])
	if idx := strings.Index(overlap, " "); idx > 0 {
		overlap = overlap[idx+1:]
	}

	return overlap
}

// normalizeText 规范化文本,多个空白折叠为单个空格
func normalizeText(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

// splitIntoSentences 将文本分割成句子
// 使用简单的规则: 以句号、问号、感叹号结尾
func splitIntoSentences(text string) []string {
	sentences := make([]string, 0)
	current := ""

	runes := []rune(text)
	for i, r := range runes {
		current += string(r)

		if r == '。' || r == '！' || r == '？' || r == '!' || r == '?' || r == '.' {
			// 跳过数字中的小数点
			if r == '.' && i+1 < len(runes) {
				next := runes[i+1]
				if next >= '0' && next <= '9' {
					continue
				}
			}

			sentence := strings.TrimSpace(current)
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current = ""
		}
	}

	if sentence := strings.TrimSpace(current); sentence != "" {
		sentences = append(sentences, sentence)
	}

	return sentences
}

// hashContent 计算内容哈希
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}
