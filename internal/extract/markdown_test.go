package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestMarkdown_HeadingsAndParagraphs(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<html><body>
		<h1>Title</h1>
		<h2>Section</h2>
		<p>First paragraph.</p>
		<p>Second   paragraph with
		wrapped lines.</p>
	</body></html>`)

	md := Markdown(doc)
	require.Contains(t, md, "# Title")
	require.Contains(t, md, "## Section")
	require.Contains(t, md, "First paragraph.")
	require.Contains(t, md, "Second paragraph with wrapped lines.")
}

func TestMarkdown_ListsAndQuotes(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<body>
		<ul><li>alpha</li><li>beta</li></ul>
		<ol><li>one</li><li>two</li></ol>
		<blockquote>quoted</blockquote>
	</body>`)

	md := Markdown(doc)
	require.Contains(t, md, "- alpha\n- beta")
	require.Contains(t, md, "1. one\n2. two")
	require.Contains(t, md, "> quoted")
}

func TestMarkdown_InlineLinksAndImages(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<body><p>See <a href="/docs">the docs</a> and <img src="/pic.png" alt="a pic"> here.</p></body>`)

	md := Markdown(doc)
	require.Contains(t, md, "[the docs](/docs)")
	require.Contains(t, md, "![a pic](/pic.png)")
}

func TestMarkdown_SkipsScriptAndStyle(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<body>
		<script>var hidden = "nope";</script>
		<style>.x { color: red }</style>
		<p>visible</p>
	</body>`)

	md := Markdown(doc)
	require.Contains(t, md, "visible")
	require.NotContains(t, md, "hidden")
	require.NotContains(t, md, "color")
}

func TestMarkdown_CodeBlocks(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, "<body><pre>func main() {}\n</pre></body>")
	md := Markdown(doc)
	require.Contains(t, md, "```\nfunc main() {}\n```")
}

func TestMarkdown_NestedContainersRecurse(t *testing.T) {
	t.Parallel()

	doc := docFrom(t, `<body><div><section><article><p>deep text</p></article></section></div></body>`)
	require.Contains(t, Markdown(doc), "deep text")
}

func TestMarkdown_Deterministic(t *testing.T) {
	t.Parallel()

	html := `<body><h1>T</h1><div><p>a <strong>bold</strong> move</p><ul><li>x</li></ul></div></body>`
	first := Markdown(docFrom(t, html))
	for range 10 {
		require.Equal(t, first, Markdown(docFrom(t, html)))
	}
}

func TestWordCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, WordCount(""))
	require.Equal(t, 3, WordCount("one  two\nthree"))
}
