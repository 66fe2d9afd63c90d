package parsers

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// Registry 文档解析器注册表
type Registry struct {
	parsers []Parser
}

// NewRegistry 创建带默认解析器的注册表
func NewRegistry() *Registry {
	r := &Registry{
		parsers: make([]Parser, 0),
	}

	r.Register(NewTextParser())
	r.Register(NewPDFParser())
	r.Register(NewDocxParser())
	r.Register(NewHTMLParser())

	return r
}

// Register 注册一个解析器
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Parse 按文件扩展名选择解析器、MIME 类型兜底，提取纯文本
func (r *Registry) Parse(fileName, mimeType string, reader io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	if ext != "" {
		for _, p := range r.parsers {
			if containsFold(p.SupportedExtensions(), ext) {
				return r.runParser(p, reader, fileName)
			}
		}
	}
	if mimeType != "" {
		mime := normalizeMime(mimeType)
		for _, p := range r.parsers {
			if containsFold(p.SupportedMimeTypes(), mime) {
				return r.runParser(p, reader, fileName)
			}
		}
	}

	return "", rag.WrapError(rag.ErrParsing, nil,
		fmt.Sprintf("no parser for file %q (mime %q)", fileName, mimeType))
}

func (r *Registry) runParser(p Parser, reader io.Reader, fileName string) (string, error) {
	text, err := p.Parse(reader)
	if err != nil {
		return "", rag.WrapError(rag.ErrParsing, err, fmt.Sprintf("parse %q", fileName))
	}
	return text, nil
}

// normalizeMime 去掉参数部分，如 "text/html; charset=utf-8"
func normalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
