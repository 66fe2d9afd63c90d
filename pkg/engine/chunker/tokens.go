package chunker

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// CountTokens 统计文本的 token 数量。
// 优先使用 cl100k_base 编码；tiktoken 初始化需要下载 BPE 词表，
// 离线环境下失败时退回到启发式估算。
func CountTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})

	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}
	return estimateTokenCount(text)
}

// estimateTokenCount 估算Token数量
// 简单规则: 英文按单词数, 中文按字符数/1.5
func estimateTokenCount(text string) int {
	wordCount := len(strings.Fields(text))

	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 { // 基本汉字Unicode范围
			chineseCount++
		}
	}

	return wordCount + int(float64(chineseCount)/1.5)
}
