// Package extract turns a rendered page into structured fields and two
// markdown renderings. Everything in this package is a pure function of its
// inputs: identical HTML and configuration always produce identical output.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Block is one block-level unit of page content. The content filters score
// and drop whole blocks; the markdown variants are block joins.
type Block struct {
	Tag      string
	Markdown string
	Text     string
	HTMLLen  int
}

// Words returns the whitespace-delimited token count of the block text.
func (b Block) Words() int {
	return len(strings.Fields(b.Text))
}

// skip lists elements that never contribute page content.
var skipTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"iframe":   {},
	"svg":      {},
	"head":     {},
}

var headingLevels = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// Blocks walks the document body and returns its content blocks in
// document order.
func Blocks(doc *goquery.Document) []Block {
	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	var blocks []Block
	root.Children().Each(func(_ int, s *goquery.Selection) {
		walkBlocks(s, &blocks)
	})
	return blocks
}

// Join renders the markdown of the given blocks.
func Join(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Markdown != "" {
			parts = append(parts, b.Markdown)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Markdown renders the full document as markdown.
func Markdown(doc *goquery.Document) string {
	return Join(Blocks(doc))
}

func walkBlocks(s *goquery.Selection, blocks *[]Block) {
	tag := goquery.NodeName(s)
	if _, skip := skipTags[tag]; skip {
		return
	}

	switch {
	case headingLevels[tag] > 0:
		text := inlineText(s)
		if text != "" {
			md := strings.Repeat("#", headingLevels[tag]) + " " + text
			appendBlock(blocks, s, tag, md, text)
		}
	case tag == "p":
		text := inlineText(s)
		if text != "" {
			appendBlock(blocks, s, tag, text, text)
		}
	case tag == "ul" || tag == "ol":
		md, text := listMarkdown(s, tag == "ol")
		if md != "" {
			appendBlock(blocks, s, tag, md, text)
		}
	case tag == "blockquote":
		text := inlineText(s)
		if text != "" {
			appendBlock(blocks, s, tag, "> "+text, text)
		}
	case tag == "pre":
		code := strings.Trim(s.Text(), "\n")
		if strings.TrimSpace(code) != "" {
			appendBlock(blocks, s, tag, "```\n"+code+"\n```", code)
		}
	case tag == "table":
		md, text := tableMarkdown(s)
		if md != "" {
			appendBlock(blocks, s, tag, md, text)
		}
	case tag == "img":
		if md := imageMarkdown(s); md != "" {
			appendBlock(blocks, s, tag, md, "")
		}
	case tag == "br" || tag == "hr":
		// No content of their own.
	default:
		// Containers recurse; anything else with bare text becomes a
		// paragraph so loosely marked-up pages still yield content.
		if s.Children().Length() > 0 {
			s.Children().Each(func(_ int, child *goquery.Selection) {
				walkBlocks(child, blocks)
			})
			return
		}
		text := inlineText(s)
		if text != "" {
			appendBlock(blocks, s, tag, text, text)
		}
	}
}

func appendBlock(blocks *[]Block, s *goquery.Selection, tag, md, text string) {
	htmlLen := 0
	if raw, err := goquery.OuterHtml(s); err == nil {
		htmlLen = len(raw)
	}
	*blocks = append(*blocks, Block{
		Tag:      tag,
		Markdown: md,
		Text:     text,
		HTMLLen:  htmlLen,
	})
}

func listMarkdown(s *goquery.Selection, ordered bool) (string, string) {
	var lines []string
	var texts []string
	s.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
		text := inlineText(li)
		if text == "" {
			return
		}
		marker := "-"
		if ordered {
			marker = fmt.Sprintf("%d.", i+1)
		}
		lines = append(lines, marker+" "+text)
		texts = append(texts, text)
	})
	return strings.Join(lines, "\n"), strings.Join(texts, " ")
}

func tableMarkdown(s *goquery.Selection) (string, string) {
	var lines []string
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, inlineText(cell))
		})
		if len(cells) > 0 {
			lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		}
	})
	md := strings.Join(lines, "\n")
	return md, strings.ReplaceAll(md, "|", " ")
}

func imageMarkdown(s *goquery.Selection) string {
	src, ok := s.Attr("src")
	if !ok || src == "" {
		return ""
	}
	alt, _ := s.Attr("alt")
	return "![" + alt + "](" + src + ")"
}

// inlineText renders the inline content of a selection: anchors become
// markdown links, inline images become image references, everything else
// collapses to whitespace-normalized text.
func inlineText(s *goquery.Selection) string {
	var sb strings.Builder
	renderInline(s, &sb)
	return normalizeSpace(sb.String())
}

func renderInline(s *goquery.Selection, sb *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		tag := goquery.NodeName(c)
		if _, skip := skipTags[tag]; skip {
			return
		}
		switch tag {
		case "#text":
			sb.WriteString(c.Text())
		case "a":
			text := normalizeSpace(c.Text())
			href, ok := c.Attr("href")
			if text == "" {
				return
			}
			if ok && href != "" {
				fmt.Fprintf(sb, " [%s](%s) ", text, href)
			} else {
				sb.WriteString(" " + text + " ")
			}
		case "img":
			if md := imageMarkdown(c); md != "" {
				sb.WriteString(" " + md + " ")
			}
		case "strong", "b":
			if text := normalizeSpace(c.Text()); text != "" {
				sb.WriteString(" **" + text + "** ")
			}
		case "em", "i":
			if text := normalizeSpace(c.Text()); text != "" {
				sb.WriteString(" *" + text + "* ")
			}
		case "br":
			sb.WriteString(" ")
		case "code":
			if text := normalizeSpace(c.Text()); text != "" {
				sb.WriteString(" `" + text + "` ")
			}
		default:
			renderInline(c, sb)
		}
	})
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WordCount is the whitespace-delimited token count of a markdown string.
func WordCount(markdown string) int {
	return len(strings.Fields(markdown))
}
