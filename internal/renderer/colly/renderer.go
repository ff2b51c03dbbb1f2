// Package collyrenderer renders pages with a plain HTTP GET via the Colly
// collector. No JavaScript runs; the DOM is whatever the server sent. It is
// the right choice for static sites and for tests, and a fallback when no
// browser is available.
package collyrenderer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Renderer implements crawler.Renderer using the Colly collector.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Renderer.
func New(cfg Config) *Renderer {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Renderer{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Render executes a single HTTP GET. Wait conditions are meaningless without
// a browser and are ignored.
func (r *Renderer) Render(ctx context.Context, pageURL string, opts crawler.RenderOptions) (crawler.RenderedPage, error) {
	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		page     crawler.RenderedPage
		fetchErr error
	)
	start := time.Now()

	collector.OnResponse(func(resp *colly.Response) {
		page = crawler.RenderedPage{
			URL:        pageURL,
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			HTML:       string(resp.Body),
			Elapsed:    time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := r.visit(ctx, collector, pageURL); err != nil {
		return crawler.RenderedPage{}, err
	}
	if fetchErr != nil {
		if crawler.IsTimeout(fetchErr) {
			return crawler.RenderedPage{}, fmt.Errorf("render %s: %w", pageURL, context.DeadlineExceeded)
		}
		return crawler.RenderedPage{}, crawler.NewRenderFailure(pageURL, fetchErr.Error())
	}

	metrics.ObserveRender("colly", page.Elapsed)
	return page, nil
}

func (r *Renderer) visit(ctx context.Context, collector *colly.Collector, pageURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return crawler.NewRenderFailure(pageURL, err.Error())
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
