package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced synchronously to API callers. Everything else is
// captured at the worker boundary and recorded on the task instead.
var (
	// ErrTaskNotFound is returned by status queries for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnsupportedFeature rejects submissions requesting a disabled
	// capability before any task is created.
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

// RenderFailure reports that the renderer loaded the page but the crawl was
// not successful (bad status, navigation error surfaced by the engine).
// Batch classification counts these as "failed" rather than "error".
type RenderFailure struct {
	URL     string
	Message string
}

func (e *RenderFailure) Error() string {
	return fmt.Sprintf("render %s failed: %s", e.URL, e.Message)
}

// NewRenderFailure builds a RenderFailure for the given page.
func NewRenderFailure(url, message string) error {
	return &RenderFailure{URL: url, Message: message}
}

// IsRenderFailure reports whether err carries an explicit non-success
// crawl outcome.
func IsRenderFailure(err error) bool {
	var rf *RenderFailure
	return errors.As(err, &rf)
}

// IsTimeout classifies an operation failure as a page-timeout overrun.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
