// Package progress defines the event stream emitted during batched site
// crawls.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StagePageDone Stage = "PAGE_DONE"
)

// Page outcome labels attached to PAGE_DONE events. They mirror the batch
// stats counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Event captures a single milestone of a site crawl run.
type Event struct {
	// RunID identifies the crawl run, conventionally the timestamped name
	// of its output directory.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Site scopes page events to a host label.
	Site string
	// URL is the page URL for PAGE_DONE events.
	URL string
	// Outcome carries the page's terminal state, or the run's result for
	// RUN_DONE.
	Outcome string
	// Pages is the number of settled pages; set on RUN_DONE.
	Pages int
	// Bytes is the rendered page size for PAGE_DONE events.
	Bytes int64
	// Dur captures page render latency or total run wall time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
		if e.Outcome == "" {
			return errors.New("page done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
