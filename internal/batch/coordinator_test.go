package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/batch"
	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/extract"
	"github.com/renderbot/crawlserve/internal/progress"
)

// fakeRenderer serves canned HTML and tracks how many renders run at once.
type fakeRenderer struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	rendered []string
	failures map[string]error
	delay    time.Duration
}

func (r *fakeRenderer) Render(_ context.Context, url string, _ crawler.RenderOptions) (crawler.RenderedPage, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.peak {
		r.peak = r.inFlight
	}
	r.rendered = append(r.rendered, url)
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	if err, ok := r.failures[url]; ok {
		return crawler.RenderedPage{}, err
	}
	return crawler.RenderedPage{
		URL:  url,
		HTML: fmt.Sprintf("<html><body><p>page for %s</p></body></html>", url),
	}, nil
}

// recordingSink captures everything written to it.
type recordingSink struct {
	mu       sync.Mutex
	results  []crawler.CrawlResult
	failures map[string]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failures: map[string]string{}}
}

func (s *recordingSink) WriteResults(_ context.Context, results []crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, results...)
	return nil
}

func (s *recordingSink) WriteFailure(_ context.Context, url string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[url] = cause
	return nil
}

func urlSet(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/page/%d", i)
	}
	return urls
}

func TestRun_RespectsConcurrencyLimit(t *testing.T) {
	renderer := &fakeRenderer{delay: 20 * time.Millisecond}
	sink := newRecordingSink()
	coord := batch.New(batch.Config{
		MaxConcurrent: 3,
		BatchDelay:    time.Millisecond,
	}, renderer, extract.NewPipeline(), sink, zap.NewNop())

	stats, err := coord.Run(context.Background(), urlSet(7), nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Success)
	assert.Equal(t, 7, stats.Total())
	assert.LessOrEqual(t, renderer.peak, 3)
	assert.Len(t, sink.results, 7)
}

func TestRun_ClassifiesOutcomes(t *testing.T) {
	urls := urlSet(4)
	renderer := &fakeRenderer{failures: map[string]error{
		urls[1]: crawler.NewRenderFailure(urls[1], "net::ERR_NAME_NOT_RESOLVED"),
		urls[2]: context.DeadlineExceeded,
		urls[3]: errors.New("tab crashed"),
	}}
	sink := newRecordingSink()
	coord := batch.New(batch.Config{
		MaxConcurrent: 2,
		BatchDelay:    time.Millisecond,
	}, renderer, extract.NewPipeline(), sink, zap.NewNop())

	stats, err := coord.Run(context.Background(), urls, nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)

	assert.Equal(t, crawler.BatchStats{Success: 1, Failed: 1, Timeout: 1, Error: 1}, stats)

	require.Len(t, sink.results, 1)
	assert.Equal(t, urls[0], sink.results[0].URL)
	assert.Contains(t, sink.failures[urls[1]], "ERR_NAME_NOT_RESOLVED")
	assert.Contains(t, sink.failures, urls[2])
	assert.Equal(t, "tab crashed", sink.failures[urls[3]])
}

func TestRun_FailedPageDoesNotStopLaterWaves(t *testing.T) {
	urls := urlSet(6)
	renderer := &fakeRenderer{failures: map[string]error{
		urls[0]: errors.New("boom"),
	}}
	sink := newRecordingSink()
	coord := batch.New(batch.Config{
		MaxConcurrent: 2,
		BatchDelay:    time.Millisecond,
	}, renderer, extract.NewPipeline(), sink, zap.NewNop())

	stats, err := coord.Run(context.Background(), urls, nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Success)
	assert.Equal(t, 1, stats.Error)
	assert.Len(t, renderer.rendered, 6)
}

func TestRun_ResultsFlushInWaveSlotOrder(t *testing.T) {
	urls := urlSet(4)
	renderer := &fakeRenderer{delay: 5 * time.Millisecond}
	sink := newRecordingSink()
	coord := batch.New(batch.Config{
		MaxConcurrent: 2,
		BatchDelay:    time.Millisecond,
	}, renderer, extract.NewPipeline(), sink, zap.NewNop())

	_, err := coord.Run(context.Background(), urls, nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)

	require.Len(t, sink.results, 4)
	for i, result := range sink.results {
		assert.Equal(t, urls[i], result.URL)
	}
}

func TestRun_CancelledBetweenWaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	renderer := &fakeRenderer{}
	sink := newRecordingSink()
	coord := batch.New(batch.Config{
		MaxConcurrent: 1,
		BatchDelay:    time.Hour,
	}, renderer, extract.NewPipeline(), sink, zap.NewNop())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	stats, err := coord.Run(ctx, urlSet(3), nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Success)
}

func TestRun_EmptyURLList(t *testing.T) {
	coord := batch.New(batch.Config{}, &fakeRenderer{}, extract.NewPipeline(), newRecordingSink(), zap.NewNop())
	stats, err := coord.Run(context.Background(), nil, nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total())
}

// recordingEmitter captures emitted progress events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) byStage(stage progress.Stage) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

func TestRun_EmitsProgressEvents(t *testing.T) {
	renderer := &fakeRenderer{failures: map[string]error{
		"https://example.com/b": crawler.NewRenderFailure("https://example.com/b", "status 500"),
	}}
	emitter := &recordingEmitter{}
	c := batch.New(
		batch.Config{MaxConcurrent: 2, BatchDelay: time.Millisecond},
		renderer,
		extract.NewPipeline(),
		newRecordingSink(),
		zap.NewNop(),
		batch.WithProgress(emitter, "20250314_092653"),
	)

	urls := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	stats, err := c.Run(context.Background(), urls, nil, crawler.FilterSpec{Kind: crawler.FilterNone})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total())

	require.Len(t, emitter.byStage(progress.StageRunStart), 1)

	pages := emitter.byStage(progress.StagePageDone)
	require.Len(t, pages, 3)
	outcomes := map[string]string{}
	for _, evt := range pages {
		assert.Equal(t, "20250314_092653", evt.RunID)
		assert.Equal(t, "example.com", evt.Site)
		assert.False(t, evt.TS.IsZero())
		outcomes[evt.URL] = evt.Outcome
	}
	assert.Equal(t, progress.OutcomeSuccess, outcomes["https://example.com/a"])
	assert.Equal(t, progress.OutcomeFailed, outcomes["https://example.com/b"])
	assert.Equal(t, progress.OutcomeSuccess, outcomes["https://example.com/c"])

	done := emitter.byStage(progress.StageRunDone)
	require.Len(t, done, 1)
	assert.Equal(t, progress.OutcomeSuccess, done[0].Outcome)
	assert.Equal(t, 3, done[0].Pages)
}
