// Package sitemap discovers candidate URLs from a site's sitemap hierarchy.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Namespace is the sitemap protocol namespace location entries live in.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// DefaultCandidatePaths are tried in order against the base URL. The first
// candidate that yields any URL wins.
var DefaultCandidatePaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap/sitemap.xml",
	"/wp-sitemap.xml", // WordPress
}

// IndexMode controls how a sitemap containing .xml entries is treated.
type IndexMode string

const (
	// IndexModeStrict treats a file with any .xml entry entirely as an
	// index: non-.xml entries in that file are discarded. This mirrors the
	// historical behavior and is lossy for mixed sitemaps.
	IndexModeStrict IndexMode = "strict"
	// IndexModeMixed also keeps non-.xml entries found in an index file.
	IndexModeMixed IndexMode = "mixed"
)

// Config controls Resolver behavior.
type Config struct {
	CandidatePaths []string
	UserAgent      string
	Timeout        time.Duration
	IndexMode      IndexMode
}

// Resolver fetches and walks sitemaps for a base URL.
type Resolver struct {
	cfg       Config
	collector *colly.Collector
	logger    *zap.Logger
}

// New builds a Resolver.
func New(cfg Config, logger *zap.Logger) *Resolver {
	if len(cfg.CandidatePaths) == 0 {
		cfg.CandidatePaths = DefaultCandidatePaths
	}
	if cfg.IndexMode == "" {
		cfg.IndexMode = IndexModeStrict
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}

	return &Resolver{
		cfg:       cfg,
		collector: c,
		logger:    logger,
	}
}

// Discover walks the conventional sitemap locations under baseURL and
// returns the deduplicated URLs of the first candidate that yields any.
// Per-candidate fetch or parse failures are logged and skipped; exhausting
// every candidate yields an empty set, not an error.
func (r *Resolver) Discover(ctx context.Context, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	for _, path := range r.cfg.CandidatePaths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sitemap discovery canceled: %w", err)
		}
		candidate := resolveRef(base, path)
		urls := r.resolveCandidate(ctx, candidate)
		if len(urls) > 0 {
			r.logger.Info("sitemap candidate resolved",
				zap.String("sitemap", candidate),
				zap.Int("urls", len(urls)),
			)
			return sortedSet(urls), nil
		}
	}
	return nil, nil
}

func (r *Resolver) resolveCandidate(ctx context.Context, candidate string) map[string]struct{} {
	body, err := r.fetch(candidate)
	if err != nil {
		r.logger.Warn("sitemap fetch failed", zap.String("sitemap", candidate), zap.Error(err))
		return nil
	}
	locs, err := collectLocs(body)
	if err != nil {
		r.logger.Warn("sitemap parse failed", zap.String("sitemap", candidate), zap.Error(err))
		return nil
	}

	urls := make(map[string]struct{})
	if !anyXMLEntry(locs) {
		// A flat sitemap: every entry is a leaf URL.
		for _, loc := range locs {
			urls[loc] = struct{}{}
		}
		return urls
	}

	// Treat the whole file as a sitemap index.
	for _, loc := range locs {
		if !strings.HasSuffix(loc, ".xml") {
			if r.cfg.IndexMode == IndexModeMixed {
				urls[loc] = struct{}{}
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return urls
		}
		subBody, err := r.fetch(loc)
		if err != nil {
			r.logger.Warn("sub-sitemap fetch failed", zap.String("sitemap", loc), zap.Error(err))
			continue
		}
		subLocs, err := collectLocs(subBody)
		if err != nil {
			r.logger.Warn("sub-sitemap parse failed", zap.String("sitemap", loc), zap.Error(err))
			continue
		}
		for _, sub := range subLocs {
			urls[sub] = struct{}{}
		}
	}
	return urls
}

// fetch performs one plain GET through a cloned collector so visit caches
// and callbacks never leak across requests.
func (r *Resolver) fetch(target string) ([]byte, error) {
	c := r.collector.Clone()
	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(resp *colly.Response) {
		body = resp.Body
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})
	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("visit %s: %w", target, err)
	}
	c.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, fetchErr)
	}
	return body, nil
}

// collectLocs returns the text of every <loc> element in the sitemap
// namespace, in document order, whether the file is an urlset or an index.
func collectLocs(doc []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var locs []string
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode sitemap xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "loc" || se.Name.Space != Namespace {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &se); err != nil {
			return nil, fmt.Errorf("decode loc element: %w", err)
		}
		text = strings.TrimSpace(text)
		if text != "" {
			locs = append(locs, text)
		}
	}
	return locs, nil
}

func anyXMLEntry(locs []string) bool {
	for _, loc := range locs {
		if strings.HasSuffix(loc, ".xml") {
			return true
		}
	}
	return false
}

func resolveRef(base *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return base.String() + path
	}
	return base.ResolveReference(ref).String()
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
