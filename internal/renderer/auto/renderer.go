// Package auto renders pages with a plain HTTP fetch first and promotes to a
// headless browser only when the static body looks like a client-rendered
// shell. Most pages never pay the browser's cost.
package auto

import (
	"context"

	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/renderer/detector"
)

// Renderer chains a fast static renderer with a full headless one.
type Renderer struct {
	fast crawler.Renderer
	full crawler.Renderer
	det  *detector.Heuristic
	log  *zap.Logger
}

// New builds an auto-promoting renderer. A nil detector falls back to the
// default heuristic thresholds.
func New(fast, full crawler.Renderer, det *detector.Heuristic, log *zap.Logger) *Renderer {
	if det == nil {
		det = detector.NewHeuristic(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{fast: fast, full: full, det: det, log: log}
}

// Render fetches the page statically and re-renders it headlessly when the
// heuristic flags the body. A failed promotion falls back to the static page
// rather than failing the crawl.
func (r *Renderer) Render(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderedPage, error) {
	page, err := r.fast.Render(ctx, url, opts)
	if err != nil {
		return crawler.RenderedPage{}, err
	}
	if !r.det.ShouldPromote(page) {
		return page, nil
	}

	r.log.Debug("promoting to headless render", zap.String("url", url))
	full, err := r.full.Render(ctx, url, opts)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.RenderedPage{}, err
		}
		r.log.Warn("headless promotion failed, keeping static page",
			zap.String("url", url),
			zap.Error(err),
		)
		return page, nil
	}
	return full, nil
}

// Close releases both underlying renderers.
func (r *Renderer) Close() {
	if closer, ok := r.fast.(interface{ Close() }); ok {
		closer.Close()
	}
	if closer, ok := r.full.(interface{ Close() }); ok {
		closer.Close()
	}
}
