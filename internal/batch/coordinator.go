// Package batch runs a set of URLs through the render/extract pipeline in
// fixed-size waves. Each wave fans out up to the concurrency limit, waits for
// every page in the wave to finish, flushes the wave's outcomes to the sink,
// and then moves on. A failed page never stops its siblings or later waves.
package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/extract"
	"github.com/renderbot/crawlserve/internal/metrics"
	"github.com/renderbot/crawlserve/internal/progress"
)

// Config captures the parameters for a batched crawl.
type Config struct {
	// MaxConcurrent is the wave size; at most this many pages render at once.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// BatchDelay is the pause between waves, giving target sites breathing room.
	BatchDelay time.Duration `mapstructure:"batch_delay" yaml:"batch_delay"`
	// PageTimeout bounds a single page render.
	PageTimeout time.Duration `mapstructure:"page_timeout" yaml:"page_timeout"`
	// WaitFor is the page readiness condition passed to the renderer.
	WaitFor crawler.WaitCondition `mapstructure:"wait_for" yaml:"wait_for"`
}

const (
	defaultMaxConcurrent = 3
	defaultBatchDelay    = time.Second
	defaultPageTimeout   = 30 * time.Second
)

// Coordinator crawls URL sets wave by wave.
type Coordinator struct {
	cfg      Config
	renderer crawler.Renderer
	pipeline *extract.Pipeline
	sink     crawler.ResultSink
	log      *zap.Logger
	emitter  progress.Emitter
	runID    string
}

// Option wires an optional collaborator into the Coordinator.
type Option func(*Coordinator)

// WithProgress streams per-page and per-run milestones to emitter under the
// given run id.
func WithProgress(emitter progress.Emitter, runID string) Option {
	return func(c *Coordinator) {
		c.emitter = emitter
		c.runID = runID
	}
}

// outcome is one URL's terminal state within a wave.
type outcome struct {
	url    string
	result crawler.CrawlResult
	err    error
}

// New creates a Coordinator. Zero config fields fall back to defaults.
func New(cfg Config, renderer crawler.Renderer, pipeline *extract.Pipeline, sink crawler.ResultSink, log *zap.Logger, opts ...Option) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = defaultBatchDelay
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	if cfg.WaitFor == "" {
		cfg.WaitFor = crawler.WaitDOMContentLoaded
	}
	c := &Coordinator{
		cfg:      cfg,
		renderer: renderer,
		pipeline: pipeline,
		sink:     sink,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run crawls every URL in order of appearance, partitioned into waves of
// MaxConcurrent. It returns aggregate counts of how each URL ended up. The
// returned error is non-nil only when the context is cancelled between waves;
// per-page failures are counted, sunk, and otherwise swallowed.
func (c *Coordinator) Run(ctx context.Context, urls []string, schema *crawler.Schema, filter crawler.FilterSpec) (crawler.BatchStats, error) {
	var stats crawler.BatchStats
	started := time.Now()

	waves := (len(urls) + c.cfg.MaxConcurrent - 1) / c.cfg.MaxConcurrent
	c.log.Info("starting batched crawl",
		zap.Int("urls", len(urls)),
		zap.Int("waves", waves),
		zap.Int("max_concurrent", c.cfg.MaxConcurrent),
	)
	c.emit(progress.Event{Stage: progress.StageRunStart})

	for wave := 0; len(urls) > 0; wave++ {
		n := min(c.cfg.MaxConcurrent, len(urls))
		current := urls[:n]
		urls = urls[n:]

		outcomes := c.runWave(ctx, current, schema, filter)
		stats.Add(c.flush(ctx, outcomes))

		c.log.Info("wave complete",
			zap.Int("wave", wave),
			zap.Int("success", stats.Success),
			zap.Int("failed", stats.Failed),
			zap.Int("timeout", stats.Timeout),
			zap.Int("error", stats.Error),
		)

		if len(urls) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			c.emit(progress.Event{
				Stage:   progress.StageRunDone,
				Outcome: progress.OutcomeError,
				Pages:   stats.Total(),
				Dur:     time.Since(started),
				Note:    ctx.Err().Error(),
			})
			return stats, fmt.Errorf("crawl interrupted: %w", ctx.Err())
		case <-time.After(c.cfg.BatchDelay):
		}
	}
	c.emit(progress.Event{
		Stage:   progress.StageRunDone,
		Outcome: progress.OutcomeSuccess,
		Pages:   stats.Total(),
		Dur:     time.Since(started),
	})
	return stats, nil
}

// runWave fans the wave's URLs out to goroutines and blocks until every one
// has finished. Outcomes come back in slot order so flushing is deterministic.
func (c *Coordinator) runWave(ctx context.Context, urls []string, schema *crawler.Schema, filter crawler.FilterSpec) []outcome {
	outcomes := make([]outcome, len(urls))
	done := make(chan struct{})
	for i, url := range urls {
		go func(slot int, url string) {
			defer func() { done <- struct{}{} }()
			result, err := c.crawlOne(ctx, url, sessionID(slot), schema, filter)
			outcomes[slot] = outcome{url: url, result: result, err: err}
		}(i, url)
	}
	for range urls {
		<-done
	}
	return outcomes
}

// crawlOne renders and extracts a single page under its own timeout.
func (c *Coordinator) crawlOne(ctx context.Context, url string, session string, schema *crawler.Schema, filter crawler.FilterSpec) (crawler.CrawlResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	page, err := c.renderer.Render(ctx, url, crawler.RenderOptions{
		WaitFor:   c.cfg.WaitFor,
		Timeout:   c.cfg.PageTimeout,
		SessionID: session,
	})
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	result, err := c.pipeline.Process(page, schema, filter)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("extract %s: %w", url, err)
	}
	return result, nil
}

// flush tallies a wave's outcomes and hands them to the sink. Sink errors are
// logged but do not affect the counts; the crawl already happened.
func (c *Coordinator) flush(ctx context.Context, outcomes []outcome) crawler.BatchStats {
	var stats crawler.BatchStats
	results := make([]crawler.CrawlResult, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err == nil {
			stats.Success++
			results = append(results, o.result)
			c.emit(progress.Event{
				Stage:   progress.StagePageDone,
				Site:    metrics.SanitizeSite(o.url),
				URL:     o.url,
				Outcome: progress.OutcomeSuccess,
				Bytes:   int64(o.result.Stats.PageSizeBytes),
				Dur:     time.Duration(o.result.Stats.CrawlTimeMs) * time.Millisecond,
			})
			continue
		}

		label := progress.OutcomeError
		switch {
		case crawler.IsTimeout(o.err):
			stats.Timeout++
			label = progress.OutcomeTimeout
		case crawler.IsRenderFailure(o.err):
			stats.Failed++
			label = progress.OutcomeFailed
		default:
			stats.Error++
		}
		c.emit(progress.Event{
			Stage:   progress.StagePageDone,
			Site:    metrics.SanitizeSite(o.url),
			URL:     o.url,
			Outcome: label,
			Note:    o.err.Error(),
		})
		c.log.Warn("page crawl failed",
			zap.String("url", o.url),
			zap.Error(o.err),
		)
		if err := c.sink.WriteFailure(ctx, o.url, o.err.Error()); err != nil {
			c.log.Warn("failed to sink error record", zap.String("url", o.url), zap.Error(err))
		}
	}
	if len(results) > 0 {
		if err := c.sink.WriteResults(ctx, results); err != nil {
			c.log.Warn("failed to sink result records", zap.Error(err))
		}
	}
	return stats
}

// emit stamps and forwards a progress event when an emitter is configured.
func (c *Coordinator) emit(evt progress.Event) {
	if c.emitter == nil {
		return
	}
	evt.RunID = c.runID
	evt.TS = time.Now().UTC()
	c.emitter.Emit(evt)
}

// sessionID names the render session for a wave slot. Slot numbers repeat
// across waves on purpose: the renderer reuses a slot's browser tab for the
// next wave instead of opening a fresh one per URL.
func sessionID(slot int) string {
	return fmt.Sprintf("session_%d", slot)
}
