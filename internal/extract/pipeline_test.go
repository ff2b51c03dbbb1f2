package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/renderbot/crawlserve/internal/crawler"
)

const pageHTML = `<html><body>
	<article>
		<h1>Running Barefoot</h1>
		<p>A long article about <a href="/gear">running gear</a>.</p>
		<img src="https://cdn.example.com/hero.jpg" alt="hero">
		<a href="https://other.example/ref">reference</a>
	</article>
</body></html>`

func renderedPage() crawler.RenderedPage {
	return crawler.RenderedPage{
		URL:     "https://example.com/post",
		HTML:    pageHTML,
		Elapsed: 1500 * time.Millisecond,
	}
}

func TestPipeline_ProcessProducesBothMarkdownVariants(t *testing.T) {
	t.Parallel()

	result, err := NewPipeline().Process(renderedPage(), nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)

	require.Equal(t, "https://example.com/post", result.URL)
	require.Contains(t, result.RawMarkdown, "# Running Barefoot")
	require.Equal(t, result.RawMarkdown, result.FitMarkdown)
	require.Equal(t, WordCount(result.RawMarkdown), result.WordCount)
	require.Equal(t, int64(1500), result.Stats.CrawlTimeMs)
	require.Equal(t, len(pageHTML), result.Stats.PageSizeBytes)
}

func TestPipeline_ProcessResolvesLinksAndImages(t *testing.T) {
	t.Parallel()

	result, err := NewPipeline().Process(renderedPage(), nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)

	require.Len(t, result.Links, 2)
	require.Equal(t, "https://example.com/gear", result.Links[0].Href)
	require.True(t, result.Links[0].Internal)
	require.Equal(t, "https://other.example/ref", result.Links[1].Href)
	require.False(t, result.Links[1].Internal)

	require.Len(t, result.Images, 1)
	require.Equal(t, "https://cdn.example.com/hero.jpg", result.Images[0].Src)
	require.Equal(t, "hero", result.Images[0].Alt)
}

func TestPipeline_ProcessEvaluatesSchema(t *testing.T) {
	t.Parallel()

	schema := &crawler.Schema{
		BaseSelector: "article",
		Fields:       []crawler.Field{{Name: "title", Selector: "h1", Kind: crawler.FieldText}},
	}
	result, err := NewPipeline().Process(renderedPage(), schema, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)
	require.Equal(t, "Running Barefoot", result.Extracted["title"])
}

func TestPipeline_ProcessIsByteForByteReproducible(t *testing.T) {
	t.Parallel()

	schema := &crawler.Schema{
		Fields: []crawler.Field{{Name: "title", Selector: "h1", Kind: crawler.FieldText}},
	}
	spec := crawler.FilterSpec{Kind: crawler.FilterPruning, Threshold: 0.4}

	first, err := NewPipeline().Process(renderedPage(), schema, spec)
	require.NoError(t, err)
	for range 10 {
		again, err := NewPipeline().Process(renderedPage(), schema, spec)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestPipeline_FitNeverExceedsRawWordCount(t *testing.T) {
	t.Parallel()

	for _, spec := range []crawler.FilterSpec{
		{Kind: crawler.FilterPruning, Threshold: 0.9},
		{Kind: crawler.FilterBM25, Threshold: 5, Query: "unrelated terms"},
		{Kind: crawler.FilterNone},
	} {
		result, err := NewPipeline().Process(renderedPage(), nil, spec)
		require.NoError(t, err)
		require.LessOrEqual(t, WordCount(result.FitMarkdown), WordCount(result.RawMarkdown))
	}
}
