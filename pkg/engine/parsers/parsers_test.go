package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

func TestTextParser(t *testing.T) {
	p := NewTextParser()

	text, err := p.Parse(strings.NewReader("  hello world  \n"))
	require.NoError(t, err)
	require.Equal(t, "hello world", text)

	_, err = p.Parse(strings.NewReader("   \n\t"))
	require.Error(t, err)
}

func TestHTMLParserExtractsMainContent(t *testing.T) {
	p := NewHTMLParser()

	doc := `<!DOCTYPE html>
<html>
<head><title>Ignored</title><style>body { color: red }</style></head>
<body>
<nav>menu items</nav>
<main>
<h1>Heading</h1>
<p>First paragraph with &amp; entity.</p>
<script>console.log("ignored")</script>
<p>Second paragraph.</p>
</main>
<footer>copyright</footer>
</body>
</html>`

	text, err := p.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Contains(t, text, "Heading")
	require.Contains(t, text, "First paragraph with & entity.")
	require.Contains(t, text, "Second paragraph.")
	require.NotContains(t, text, "menu items")
	require.NotContains(t, text, "console.log")
	require.NotContains(t, text, "copyright")
	require.NotContains(t, text, "color: red")
}

func TestHTMLParserFallsBackToBody(t *testing.T) {
	p := NewHTMLParser()

	text, err := p.Parse(strings.NewReader("<html><body><p>plain body</p></body></html>"))
	require.NoError(t, err)
	require.Equal(t, "plain body", text)
}

func TestRegistrySelectsByExtension(t *testing.T) {
	r := NewRegistry()

	text, err := r.Parse("notes.md", "", strings.NewReader("# title"))
	require.NoError(t, err)
	require.Equal(t, "# title", text)
}

func TestRegistrySelectsByMimeType(t *testing.T) {
	r := NewRegistry()

	// 无扩展名的存储路径按 MIME 选择
	text, err := r.Parse("blob-8f2a", "text/html; charset=utf-8",
		strings.NewReader("<body><p>from mime</p></body>"))
	require.NoError(t, err)
	require.Equal(t, "from mime", text)
}

func TestRegistryUnknownFormat(t *testing.T) {
	r := NewRegistry()

	_, err := r.Parse("data.bin", "application/octet-stream", strings.NewReader("x"))
	require.ErrorIs(t, err, rag.ErrParsing)
}

func TestRegistryWrapsParserErrors(t *testing.T) {
	r := NewRegistry()

	// 空文本解析失败也归为 ErrParsing
	_, err := r.Parse("empty.txt", "", strings.NewReader(""))
	require.ErrorIs(t, err, rag.ErrParsing)
}
