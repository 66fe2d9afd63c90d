package parsers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/dslipak/pdf"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/logger"
)

// PDFParser PDF 文件解析器
type PDFParser struct{}

// NewPDFParser 创建 PDF 解析器
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse 解析 PDF 文件
func (p *PDFParser) Parse(reader io.Reader) (string, error) {
	// pdf.NewReader 需要 ReaderAt，先读入内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取 PDF 内容失败: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("打开 PDF 失败: %w", err)
	}

	var buf strings.Builder
	numPages := r.NumPage()

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页失败跳过，继续处理其余页面
			logger.Warn("解析 PDF 页面失败", zap.Int("page", i), zap.Error(err))
			continue
		}

		buf.WriteString(text)
		buf.WriteString("\n")
	}

	content := strings.TrimSpace(buf.String())
	if content == "" {
		return "", fmt.Errorf("PDF 内容为空或无法解析文本")
	}

	return content, nil
}

// SupportedExtensions 支持的文件扩展名
func (p *PDFParser) SupportedExtensions() []string {
	return []string{".pdf"}
}

// SupportedMimeTypes 支持的 MIME 类型
func (p *PDFParser) SupportedMimeTypes() []string {
	return []string{"application/pdf"}
}
