// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values held in the task store.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// WaitCondition names the page readiness event a render waits for.
type WaitCondition string

// Supported wait conditions. networkidle0 is remapped to domcontentloaded
// at request normalization time because it is unreliable on heavy pages.
const (
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitLoad             WaitCondition = "load"
	WaitNetworkIdle0     WaitCondition = "networkidle0"
	WaitNetworkIdle2     WaitCondition = "networkidle2"
)

// FilterKind selects the content filter applied to the fit markdown.
type FilterKind string

// Supported content filters.
const (
	FilterPruning FilterKind = "pruning"
	FilterBM25    FilterKind = "bm25"
	FilterNone    FilterKind = "none"
)

// FilterSpec bundles a filter kind with its tuning knobs.
type FilterSpec struct {
	Kind      FilterKind `json:"kind"`
	Threshold float64    `json:"threshold"`
	Query     string     `json:"query,omitempty"`
}

// Task is the tracked lifecycle unit of one crawl-and-extract request.
// Result is set iff the status is completed; Error iff failed.
type Task struct {
	ID      string       `json:"task_id"`
	Status  TaskStatus   `json:"status"`
	Result  *CrawlResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
	Created time.Time    `json:"created_at"`
}

// TaskItem wraps a normalized request queued for a worker.
type TaskItem struct {
	TaskID    string
	Request   CrawlRequest
	Submitted int64
}

// Link is one anchor harvested from a rendered page.
type Link struct {
	Href     string `json:"href"`
	Text     string `json:"text,omitempty"`
	Internal bool   `json:"internal"`
}

// Image is one image reference harvested from a rendered page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// PageStats carries timing and size figures for one crawl.
type PageStats struct {
	CrawlTimeMs   int64 `json:"crawl_time_ms"`
	PageSizeBytes int   `json:"page_size_bytes"`
}

// CrawlResult is the immutable output of one crawl-and-extract operation.
type CrawlResult struct {
	URL         string         `json:"url"`
	RawMarkdown string         `json:"raw_markdown"`
	FitMarkdown string         `json:"fit_markdown"`
	Extracted   map[string]any `json:"extracted_json,omitempty"`
	WordCount   int            `json:"word_count"`
	Links       []Link         `json:"links"`
	Images      []Image        `json:"images"`
	Stats       PageStats      `json:"stats"`
}

// BatchStats accumulates per-outcome counters across all batches of a run.
type BatchStats struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Timeout int `json:"timeout"`
	Error   int `json:"error"`
}

// Total returns the number of settled operations, which equals the input
// URL count for a finished run.
func (s BatchStats) Total() int {
	return s.Success + s.Failed + s.Timeout + s.Error
}

// Add accumulates another stats block into the receiver.
func (s *BatchStats) Add(other BatchStats) {
	s.Success += other.Success
	s.Failed += other.Failed
	s.Timeout += other.Timeout
	s.Error += other.Error
}

// RenderOptions parameterize one render call.
type RenderOptions struct {
	WaitFor   WaitCondition
	Timeout   time.Duration
	SessionID string
}

// RenderedPage is the DOM snapshot returned by a Renderer.
type RenderedPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Elapsed    time.Duration
}
