package parsers

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// DocxParser Word 文档解析器（.docx）
type DocxParser struct{}

// NewDocxParser 创建 DOCX 解析器
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

var (
	docxParagraphRegex = regexp.MustCompile(`</w:p>`)
	docxTagRegex       = regexp.MustCompile(`<[^>]+>`)
)

// Parse 解析 DOCX 文档
func (p *DocxParser) Parse(reader io.Reader) (string, error) {
	// docx 库需要 ReaderAt，先读入内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文档失败: %w", err)
	}

	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("打开 DOCX 失败: %w", err)
	}
	defer r.Close()

	// GetContent 返回 document.xml 原文，按段落换行后去除标签
	content := r.Editable().GetContent()
	content = docxParagraphRegex.ReplaceAllString(content, "\n")
	content = docxTagRegex.ReplaceAllString(content, "")
	content = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	).Replace(content)

	text := strings.TrimSpace(content)
	if text == "" {
		return "", fmt.Errorf("DOCX 内容为空")
	}
	return text, nil
}

// SupportedExtensions 支持的扩展名
func (p *DocxParser) SupportedExtensions() []string {
	return []string{".docx"}
}

// SupportedMimeTypes 支持的 MIME 类型
func (p *DocxParser) SupportedMimeTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
}
