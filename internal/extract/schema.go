package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/renderbot/crawlserve/internal/crawler"
)

// EvaluateSchema walks the schema tree against the document and returns the
// structured fields. Selectors that match nothing yield empty strings or
// empty lists; evaluation never fails on missing content.
func EvaluateSchema(doc *goquery.Document, schema *crawler.Schema) map[string]any {
	if schema == nil {
		return nil
	}
	base := doc.Find(schema.BaseSelector).First()
	if base.Length() == 0 {
		base = doc.Selection
	}
	return evaluateFields(base, schema.Fields)
}

func evaluateFields(base *goquery.Selection, fields []crawler.Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Name] = evaluateField(base, f)
	}
	return out
}

func evaluateField(base *goquery.Selection, f crawler.Field) any {
	switch f.Kind {
	case crawler.FieldList:
		items := make([]map[string]any, 0)
		matches(base, f.Selector).Each(func(_ int, el *goquery.Selection) {
			items = append(items, evaluateFields(el, f.Fields))
		})
		return items
	case crawler.FieldHTML:
		el := matches(base, f.Selector).First()
		if el.Length() == 0 {
			return ""
		}
		raw, err := el.Html()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(raw)
	default:
		return strings.TrimSpace(matches(base, f.Selector).First().Text())
	}
}

// matches resolves a field selector relative to its base element. An empty
// selector targets the base element itself, which is how list child fields
// read the matched element directly.
func matches(base *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return base
	}
	return base.Find(selector)
}
