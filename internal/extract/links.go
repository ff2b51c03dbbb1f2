package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/renderbot/crawlserve/internal/crawler"
)

// Links harvests anchors from the document, resolved absolute against the
// page URL and deduplicated in document order.
func Links(doc *goquery.Document, pageURL string) []crawler.Link {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]struct{})
	links := make([]crawler.Link, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		abs, host := resolveHref(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, crawler.Link{
			Href:     abs,
			Text:     normalizeSpace(s.Text()),
			Internal: base != nil && strings.EqualFold(host, base.Hostname()),
		})
	})
	return links
}

// Images harvests image references from the document, resolved absolute
// against the page URL and deduplicated in document order.
func Images(doc *goquery.Document, pageURL string) []crawler.Image {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]struct{})
	images := make([]crawler.Image, 0)
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		abs, _ := resolveHref(base, src)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		alt, _ := s.Attr("alt")
		images = append(images, crawler.Image{Src: abs, Alt: strings.TrimSpace(alt)})
	})
	return images
}

func resolveHref(base *url.URL, href string) (string, string) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", ""
	}
	return ref.String(), ref.Hostname()
}
