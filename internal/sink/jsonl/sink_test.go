// Package jsonl_test tests the JSONL result sink.
package jsonl_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/sink/jsonl"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func newSink(t *testing.T) *jsonl.Sink {
	t.Helper()
	clock := fixedClock{now: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)}
	sink, err := jsonl.New(jsonl.Config{BaseDir: t.TempDir()}, clock, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestNew(t *testing.T) {
	t.Run("CreatesTimestampedRunDirectory", func(t *testing.T) {
		sink := newSink(t)
		assert.Equal(t, "20250314_092653", filepath.Base(sink.Dir()))
		assert.FileExists(t, filepath.Join(sink.Dir(), "results.jsonl"))
		assert.FileExists(t, filepath.Join(sink.Dir(), "errors.jsonl"))
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := jsonl.New(jsonl.Config{}, fixedClock{now: time.Now()}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base directory is required")
	})
}

func TestWriteResults(t *testing.T) {
	sink := newSink(t)
	ctx := context.Background()

	results := []crawler.CrawlResult{
		{URL: "https://example.com/a", RawMarkdown: "# A", WordCount: 1},
		{URL: "https://example.com/b", RawMarkdown: "# B", WordCount: 1},
	}
	require.NoError(t, sink.WriteResults(ctx, results))
	require.NoError(t, sink.WriteResults(ctx, results[:1]))

	lines := readLines(t, filepath.Join(sink.Dir(), "results.jsonl"))
	require.Len(t, lines, 3)

	var record struct {
		Timestamp string              `json:"timestamp"`
		Result    crawler.CrawlResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "2025-03-14T09:26:53Z", record.Timestamp)
	assert.Equal(t, "https://example.com/a", record.Result.URL)
	assert.Equal(t, "# A", record.Result.RawMarkdown)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &record))
	assert.Equal(t, "https://example.com/b", record.Result.URL)
}

func TestWriteFailure(t *testing.T) {
	sink := newSink(t)

	require.NoError(t, sink.WriteFailure(context.Background(), "https://example.com/x", "render failed: net::ERR_NAME_NOT_RESOLVED"))

	lines := readLines(t, filepath.Join(sink.Dir(), "errors.jsonl"))
	require.Len(t, lines, 1)

	var record struct {
		Timestamp string `json:"timestamp"`
		URL       string `json:"url"`
		Error     string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "https://example.com/x", record.URL)
	assert.Equal(t, "render failed: net::ERR_NAME_NOT_RESOLVED", record.Error)
}

func TestFailuresDoNotTouchResultsFile(t *testing.T) {
	sink := newSink(t)
	ctx := context.Background()

	require.NoError(t, sink.WriteFailure(ctx, "https://example.com/x", "timeout"))
	require.NoError(t, sink.WriteResults(ctx, []crawler.CrawlResult{{URL: "https://example.com/y"}}))

	assert.Len(t, readLines(t, filepath.Join(sink.Dir(), "results.jsonl")), 1)
	assert.Len(t, readLines(t, filepath.Join(sink.Dir(), "errors.jsonl")), 1)
}
