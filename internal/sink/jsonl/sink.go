// Package jsonl implements an append-only, line-delimited JSON result sink.
//
// Each crawl run gets its own timestamped directory under the configured base
// directory. Successful results go to results.jsonl and failures to
// errors.jsonl, one JSON object per line, flushed as soon as they arrive so a
// crashed run keeps everything written before the crash.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/crawler"
)

const (
	resultsFile = "results.jsonl"
	errorsFile  = "errors.jsonl"

	runDirFormat = "20060102_150405"
)

// Config captures the parameters for the JSONL result sink.
type Config struct {
	// BaseDir is the root directory under which run directories are created.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Sink writes crawl outcomes to per-run JSONL files.
type Sink struct {
	dir   string
	clock crawler.Clock
	log   *zap.Logger

	mu      sync.Mutex
	results *os.File
	errs    *os.File
}

// resultRecord is the wire form of one successful crawl.
type resultRecord struct {
	Timestamp string              `json:"timestamp"`
	Result    crawler.CrawlResult `json:"result"`
}

// errorRecord is the wire form of one failed crawl.
type errorRecord struct {
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Error     string `json:"error"`
}

// New creates a sink rooted at a fresh run directory named after the current
// time. The directory and both files are created eagerly so permission
// problems surface at startup rather than mid-crawl.
func New(cfg Config, clock crawler.Clock, log *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	dir := filepath.Join(cfg.BaseDir, clock.Now().Format(runDirFormat))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	results, err := openAppend(filepath.Join(dir, resultsFile))
	if err != nil {
		return nil, err
	}
	errs, err := openAppend(filepath.Join(dir, errorsFile))
	if err != nil {
		results.Close()
		return nil, err
	}

	return &Sink{
		dir:     dir,
		clock:   clock,
		log:     log,
		results: results,
		errs:    errs,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// Dir returns the run directory this sink writes into.
func (s *Sink) Dir() string {
	return s.dir
}

// WriteResults appends one line per result to results.jsonl. A record that
// fails to encode or write is logged and skipped; the remaining records are
// still written. The first error encountered is returned after all records
// have been attempted.
func (s *Sink) WriteResults(_ context.Context, results []crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, result := range results {
		record := resultRecord{
			Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
			Result:    result,
		}
		if err := writeLine(s.results, record); err != nil {
			s.log.Warn("failed to write result record",
				zap.String("url", result.URL),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WriteFailure appends a single line to errors.jsonl.
func (s *Sink) WriteFailure(_ context.Context, url string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := errorRecord{
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
		URL:       url,
		Error:     cause,
	}
	if err := writeLine(s.errs, record); err != nil {
		s.log.Warn("failed to write error record",
			zap.String("url", url),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close flushes and closes both files.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range []*os.File{s.results, s.errs} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeLine(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}
