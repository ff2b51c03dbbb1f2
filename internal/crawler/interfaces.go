package crawler

import (
	"context"
	"io"
	"time"
)

// Renderer is the opaque page-rendering capability. Implementations load the
// URL, honor the wait condition and timeout, and return the DOM snapshot.
// Concurrent renders are isolated per session ID so browser state never
// leaks between crawls.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (RenderedPage, error)
}

// TaskStore owns the task table. Every mutation is atomic with respect to
// concurrent reads, and transitions out of a terminal state are rejected.
type TaskStore interface {
	Create(ctx context.Context, task Task) error
	SetRunning(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID string, result CrawlResult) error
	Fail(ctx context.Context, taskID string, cause string) error
	Get(ctx context.Context, taskID string) (Task, error)
	Active(ctx context.Context) (int, error)
}

// Queue provides enqueue/dequeue semantics for submitted crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, item TaskItem) error
	Dequeue(ctx context.Context) (TaskItem, error)
}

// ResultSink appends crawl outcomes to durable, line-delimited logs. A
// failure to write one record must not affect sibling records.
type ResultSink interface {
	WriteResults(ctx context.Context, results []CrawlResult) error
	WriteFailure(ctx context.Context, url string, cause string) error
}

// ResultArchive persists completed results to long-term storage. Archiving
// is best-effort; failures never change a task's outcome.
type ResultArchive interface {
	StoreResult(ctx context.Context, taskID string, result CrawlResult) error
}

// Publisher pushes task-completion events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
