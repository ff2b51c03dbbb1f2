package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/renderbot/crawlserve/internal/crawler"
)

// Pipeline converts rendered pages into crawl results. It holds no mutable
// state and is safe for concurrent use.
type Pipeline struct{}

// NewPipeline constructs a Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Process evaluates the schema and generates both markdown variants from
// one rendered page. The result is fully determined by the page content,
// the schema, and the filter spec.
func (p *Pipeline) Process(page crawler.RenderedPage, schema *crawler.Schema, filter crawler.FilterSpec) (crawler.CrawlResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("parse rendered html: %w", err)
	}

	blocks := Blocks(doc)
	raw := Join(blocks)
	fit := Join(ApplyFilter(blocks, filter))

	result := crawler.CrawlResult{
		URL:         page.URL,
		RawMarkdown: raw,
		FitMarkdown: fit,
		Extracted:   EvaluateSchema(doc, schema),
		WordCount:   WordCount(raw),
		Links:       Links(doc, page.URL),
		Images:      Images(doc, page.URL),
		Stats: crawler.PageStats{
			CrawlTimeMs:   page.Elapsed.Milliseconds(),
			PageSizeBytes: len(page.HTML),
		},
	}
	return result, nil
}
