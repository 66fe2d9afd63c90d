package parsers

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

// HTMLParser HTML 文档解析器
type HTMLParser struct{}

// NewHTMLParser 创建 HTML 解析器
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

var (
	htmlScriptRegex  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlStyleRegex   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlCommentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlBlockRegex   = regexp.MustCompile(`(?i)</(p|div|section|h[1-6]|li|tr|br|hr)[^>]*>`)
	htmlTagRegex     = regexp.MustCompile(`<[^>]+>`)
	htmlSpaceRegex   = regexp.MustCompile(`[ \t]+`)
	htmlNewlineRegex = regexp.MustCompile(`\n\s*\n+`)
)

// Parse 解析 HTML 文档
func (p *HTMLParser) Parse(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取 HTML 失败: %w", err)
	}

	content := p.extractMainContent(string(data))
	text := p.cleanText(content)
	if text == "" {
		return "", fmt.Errorf("HTML 内容为空")
	}
	return text, nil
}

// SupportedExtensions 支持的扩展名
func (p *HTMLParser) SupportedExtensions() []string {
	return []string{".html", ".htm"}
}

// SupportedMimeTypes 支持的 MIME 类型
func (p *HTMLParser) SupportedMimeTypes() []string {
	return []string{"text/html"}
}

// extractMainContent 优先提取语义化正文区域
func (p *HTMLParser) extractMainContent(doc string) string {
	for _, tag := range []string{"main", "article", "body"} {
		if content := p.extractTag(doc, tag); content != "" {
			return content
		}
	}
	return doc
}

// extractTag 提取指定标签内容
func (p *HTMLParser) extractTag(doc, tag string) string {
	pattern := `(?is)<` + tag + `[^>]*>(.*?)</` + tag + `>`
	regex := regexp.MustCompile(pattern)
	if match := regex.FindStringSubmatch(doc); len(match) > 1 {
		return match[1]
	}
	return ""
}

// cleanText 清理 HTML 为纯文本
func (p *HTMLParser) cleanText(doc string) string {
	doc = htmlScriptRegex.ReplaceAllString(doc, "")
	doc = htmlStyleRegex.ReplaceAllString(doc, "")
	for _, tag := range []string{"nav", "header", "footer", "aside", "noscript"} {
		chrome := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		doc = chrome.ReplaceAllString(doc, "")
	}
	doc = htmlCommentRegex.ReplaceAllString(doc, "")

	// 块级元素结束转换为换行，保留段落结构
	doc = htmlBlockRegex.ReplaceAllString(doc, "\n")
	text := htmlTagRegex.ReplaceAllString(doc, " ")

	text = html.UnescapeString(text)

	text = htmlSpaceRegex.ReplaceAllString(text, " ")
	text = htmlNewlineRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
