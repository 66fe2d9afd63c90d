package parsers

import (
	"fmt"
	"io"
	"strings"
)

// TextParser 文本文件解析器
// 支持: .txt, .md
type TextParser struct{}

// NewTextParser 创建文本解析器
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse 解析文本文件
func (p *TextParser) Parse(reader io.Reader) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", fmt.Errorf("文件内容为空")
	}

	return text, nil
}

// SupportedExtensions 支持的文件扩展名
func (p *TextParser) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

// SupportedMimeTypes 支持的 MIME 类型
func (p *TextParser) SupportedMimeTypes() []string {
	return []string{"text/plain", "text/markdown"}
}
