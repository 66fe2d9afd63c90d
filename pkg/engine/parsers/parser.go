// Package parsers 从入库文档格式中提取纯文本。
// 解析器按文件扩展名选择、MIME 类型兜底，
// 因此宿主可以传入存储名不透明的文件。
package parsers

import "io"

// Parser 文档解析器接口
type Parser interface {
	// Parse 从 reader 读取并提取文本内容
	Parse(reader io.Reader) (string, error)

	// SupportedExtensions 返回支持的文件扩展名列表（如 ".txt"）
	SupportedExtensions() []string

	// SupportedMimeTypes 返回支持的 MIME 类型列表
	SupportedMimeTypes() []string
}
