// Package scheduler accepts crawl submissions and runs them on a bounded
// worker pool. Submission is decoupled from execution: a task is created in
// the pending state, queued, and picked up by the next free worker. Task
// state only ever moves forward, and the terminal states carry either a
// result or an error, never both.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/extract"
	"github.com/renderbot/crawlserve/internal/hash/sha256"
	"github.com/renderbot/crawlserve/internal/metrics"
)

// Config controls Scheduler behavior.
type Config struct {
	// MaxConcurrentTasks is the worker pool size.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	// SnapshotPrefix, when non-empty together with a blob store, is the path
	// prefix under which raw HTML snapshots are written.
	SnapshotPrefix string `mapstructure:"snapshot_prefix" yaml:"snapshot_prefix"`
	// Topic, when non-empty together with a publisher, receives a message for
	// every completed task.
	Topic string `mapstructure:"topic" yaml:"topic"`
}

const defaultMaxConcurrentTasks = 5

// Scheduler owns the submit/execute lifecycle of crawl tasks.
type Scheduler struct {
	cfg       Config
	queue     crawler.Queue
	tasks     crawler.TaskStore
	renderer  crawler.Renderer
	pipeline  *extract.Pipeline
	blobStore crawler.BlobStore
	archive   crawler.ResultArchive
	publisher crawler.Publisher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	log       *zap.Logger
}

// Option wires an optional collaborator into the Scheduler.
type Option func(*Scheduler)

// WithBlobStore enables raw HTML snapshots for completed tasks.
func WithBlobStore(store crawler.BlobStore) Option {
	return func(s *Scheduler) { s.blobStore = store }
}

// WithArchive enables long-term persistence of completed results.
func WithArchive(archive crawler.ResultArchive) Option {
	return func(s *Scheduler) { s.archive = archive }
}

// WithPublisher enables completion events on the configured topic.
func WithPublisher(pub crawler.Publisher) Option {
	return func(s *Scheduler) { s.publisher = pub }
}

// New constructs a Scheduler.
func New(
	cfg Config,
	queue crawler.Queue,
	tasks crawler.TaskStore,
	renderer crawler.Renderer,
	pipeline *extract.Pipeline,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	log *zap.Logger,
	opts ...Option,
) *Scheduler {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = defaultMaxConcurrentTasks
	}
	s := &Scheduler{
		cfg:      cfg,
		queue:    queue,
		tasks:    tasks,
		renderer: renderer,
		pipeline: pipeline,
		clock:    clock,
		ids:      ids,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxConcurrentTasks reports the configured worker pool size.
func (s *Scheduler) MaxConcurrentTasks() int {
	return s.cfg.MaxConcurrentTasks
}

// Submit validates the request, registers a pending task, and queues it for
// execution. It returns the new task ID without waiting for the crawl.
func (s *Scheduler) Submit(ctx context.Context, req crawler.CrawlRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	req = req.Normalize()

	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}

	now := s.clock.Now()
	task := crawler.Task{
		ID:      id,
		Status:  crawler.TaskStatusPending,
		Created: now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	item := crawler.TaskItem{
		TaskID:    id,
		Request:   req,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		if failErr := s.tasks.Fail(ctx, id, "task could not be queued"); failErr != nil {
			s.log.Error("fail task after enqueue error", zap.String("task_id", id), zap.Error(failErr))
		}
		return "", fmt.Errorf("queue task: %w", err)
	}

	s.log.Info("task submitted",
		zap.String("task_id", id),
		zap.Int("urls", len(req.URLs)),
	)
	return id, nil
}

// Status returns the current snapshot of a task.
func (s *Scheduler) Status(ctx context.Context, taskID string) (crawler.Task, error) {
	return s.tasks.Get(ctx, taskID)
}

// Active reports the number of tasks that have not reached a terminal state.
func (s *Scheduler) Active(ctx context.Context) (int, error) {
	return s.tasks.Active(ctx)
}

// Run starts the worker pool and blocks until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxConcurrentTasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		item, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		s.processTask(ctx, item)
	}
}

func (s *Scheduler) processTask(ctx context.Context, item crawler.TaskItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := s.tasks.SetRunning(ctx, item.TaskID); err != nil {
		s.log.Error("mark task running", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}

	// The API accepts a URL list for forward compatibility but a task
	// renders a single page; everything past the first entry is ignored.
	url := item.Request.URLs[0]
	s.log.Debug("task started", zap.String("task_id", item.TaskID), zap.String("url", url))

	result, err := s.crawl(ctx, item, url)
	if err != nil {
		s.failTask(ctx, item.TaskID, url, err)
		return
	}

	if err := s.tasks.Complete(ctx, item.TaskID, result); err != nil {
		s.log.Error("complete task", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}
	metrics.ObserveTask("completed")
	metrics.ObservePage(url, "success")

	s.archiveResult(ctx, item.TaskID, result)
	s.publishCompletion(ctx, item.TaskID, result)

	s.log.Info("task completed",
		zap.String("task_id", item.TaskID),
		zap.String("url", url),
		zap.Int("word_count", result.WordCount),
	)
}

func (s *Scheduler) crawl(ctx context.Context, item crawler.TaskItem, url string) (crawler.CrawlResult, error) {
	timeout := time.Duration(item.Request.PageTimeoutMs) * time.Millisecond
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := s.renderer.Render(pageCtx, url, crawler.RenderOptions{
		WaitFor:   item.Request.WaitFor,
		Timeout:   timeout,
		SessionID: "task_" + item.TaskID,
	})
	if err != nil {
		return crawler.CrawlResult{}, err
	}

	result, err := s.pipeline.Process(page, item.Request.Schema(), item.Request.Filter())
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("extract %s: %w", url, err)
	}

	s.snapshotPage(ctx, item.TaskID, page)
	return result, nil
}

func (s *Scheduler) failTask(ctx context.Context, taskID, url string, cause error) {
	outcome := "error"
	switch {
	case crawler.IsTimeout(cause):
		outcome = "timeout"
	case crawler.IsRenderFailure(cause):
		outcome = "failed"
	}
	metrics.ObserveTask("failed")
	metrics.ObservePage(url, outcome)

	s.log.Warn("task failed",
		zap.String("task_id", taskID),
		zap.String("url", url),
		zap.String("outcome", outcome),
		zap.Error(cause),
	)
	if err := s.tasks.Fail(ctx, taskID, cause.Error()); err != nil {
		s.log.Error("fail task status update", zap.String("task_id", taskID), zap.Error(err))
	}
}

// snapshotPage writes the raw DOM to the blob store. Snapshots are
// best-effort; a storage error never changes the task outcome.
func (s *Scheduler) snapshotPage(ctx context.Context, taskID string, page crawler.RenderedPage) {
	if s.blobStore == nil {
		return
	}
	// The digest keeps re-crawls of the same task id from overwriting
	// each other and makes identical bodies easy to spot.
	path := fmt.Sprintf("%s_%s.html", taskID, sha256.ShortSum([]byte(page.HTML)))
	if prefix := strings.Trim(s.cfg.SnapshotPrefix, "/"); prefix != "" {
		path = fmt.Sprintf("%s/%s", prefix, path)
	}
	uri, err := s.blobStore.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(page.HTML))
	if err != nil {
		s.log.Warn("snapshot write failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	s.log.Debug("snapshot written", zap.String("task_id", taskID), zap.String("blob_uri", uri))
}

// archiveResult is best-effort; an archive error never changes the task
// outcome.
func (s *Scheduler) archiveResult(ctx context.Context, taskID string, result crawler.CrawlResult) {
	if s.archive == nil {
		return
	}
	if err := s.archive.StoreResult(ctx, taskID, result); err != nil {
		s.log.Warn("archive result failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// publishCompletion is best-effort; a publish error never changes the task
// outcome.
func (s *Scheduler) publishCompletion(ctx context.Context, taskID string, result crawler.CrawlResult) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"task_id":    taskID,
		"url":        result.URL,
		"word_count": result.WordCount,
		"timestamp":  s.clock.Now().Format(time.RFC3339),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		s.log.Warn("publish completion failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
