// Package headless renders pages with JavaScript executed via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/metrics"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	// MaxParallel caps simultaneous renders across all sessions. Zero means
	// unlimited.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
	// UserAgent overrides the browser user agent when non-empty.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// NavigationTimeout bounds a render when the caller's options carry no
	// timeout of their own.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// DomainQPS throttles renders per target hostname. Zero disables the
	// limiter.
	DomainQPS float64 `mapstructure:"domain_qps" yaml:"domain_qps"`
}

// Renderer implements crawler.Renderer using headless Chrome. Renders that
// share a session ID reuse one browser tab, so cookies and storage persist
// across them.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	limiters map[string]*rate.Limiter
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a headless renderer backed by chromedp.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		sessions:    map[string]*session{},
		limiters:    map[string]*rate.Limiter{},
	}, nil
}

// Close tears down all session tabs and the browser process.
func (r *Renderer) Close() {
	r.mu.Lock()
	for id, s := range r.sessions {
		s.cancel()
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	r.allocCancel()
}

// Render navigates to the URL in the session's tab and returns the rendered
// DOM. A deadline overrun surfaces as context.DeadlineExceeded; any other
// browser error comes back as a RenderFailure.
func (r *Renderer) Render(ctx context.Context, pageURL string, opts crawler.RenderOptions) (crawler.RenderedPage, error) {
	if err := r.waitDomain(ctx, pageURL); err != nil {
		return crawler.RenderedPage{}, err
	}
	if err := r.acquire(ctx); err != nil {
		return crawler.RenderedPage{}, err
	}
	defer r.release()

	tabCtx, err := r.sessionContext(opts.SessionID)
	if err != nil {
		return crawler.RenderedPage{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.NavigationTimeout
	}
	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(runCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.run(runCtx, pageURL, opts.WaitFor)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return crawler.RenderedPage{}, ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return crawler.RenderedPage{}, fmt.Errorf("render %s: %w", pageURL, context.DeadlineExceeded)
		default:
			return crawler.RenderedPage{}, crawler.NewRenderFailure(pageURL, err.Error())
		}
	}
	metrics.ObserveRender("chromedp", elapsed)

	status, responseURL := meta.snapshotWithFallbacks(pageURL, finalURL)
	return crawler.RenderedPage{
		URL:        pageURL,
		FinalURL:   responseURL,
		StatusCode: status,
		HTML:       html,
		Elapsed:    elapsed,
	}, nil
}

func (r *Renderer) run(ctx context.Context, pageURL string, waitFor crawler.WaitCondition) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(pageURL),
	}
	actions = append(actions, waitActions(waitFor)...)
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// waitActions maps a readiness condition onto chromedp actions. Chrome's
// devtools protocol has no direct network-idle wait, so the idle conditions
// settle for body readiness plus a short quiet period.
func waitActions(waitFor crawler.WaitCondition) []chromedp.Action {
	switch waitFor {
	case crawler.WaitNetworkIdle0, crawler.WaitNetworkIdle2:
		return []chromedp.Action{
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(500 * time.Millisecond),
		}
	case crawler.WaitLoad:
		return []chromedp.Action{
			chromedp.WaitVisible("body", chromedp.ByQuery),
		}
	default:
		return []chromedp.Action{
			chromedp.WaitReady("body", chromedp.ByQuery),
		}
	}
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// sessionContext returns the tab for the session, creating it on first use.
// An empty session ID gets a throwaway tab keyed by itself, which in practice
// means all anonymous renders share one tab.
func (r *Renderer) sessionContext(sessionID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok && s.ctx.Err() == nil {
		return s.ctx, nil
	}

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	r.sessions[sessionID] = &session{ctx: tabCtx, cancel: tabCancel}
	return tabCtx, nil
}

// waitDomain blocks until the per-hostname limiter grants a slot.
func (r *Renderer) waitDomain(ctx context.Context, pageURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())

	r.mu.Lock()
	limiter, ok := r.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1)
		r.limiters[host] = limiter
	}
	r.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return nil
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok {
		return
	}
	if resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, respURL := m.status, m.url
	m.mu.RUnlock()

	switch {
	case respURL != "":
	case finalURL != "":
		respURL = finalURL
	default:
		respURL = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, respURL
}
