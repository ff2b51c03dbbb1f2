package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLList_UnmarshalString(t *testing.T) {
	t.Parallel()

	var req CrawlRequest
	err := json.Unmarshal([]byte(`{"urls":"https://example.com","priority":5}`), &req)
	require.NoError(t, err)
	require.Equal(t, URLList{"https://example.com"}, req.URLs)
	require.Equal(t, 5, req.Priority)
}

func TestURLList_UnmarshalArray(t *testing.T) {
	t.Parallel()

	var req CrawlRequest
	err := json.Unmarshal([]byte(`{"urls":["https://a.example","https://b.example"]}`), &req)
	require.NoError(t, err)
	require.Len(t, req.URLs, 2)
}

func TestURLList_RejectsOtherShapes(t *testing.T) {
	t.Parallel()

	var req CrawlRequest
	err := json.Unmarshal([]byte(`{"urls":42}`), &req)
	require.Error(t, err)
}

func TestCrawlRequest_ValidateRejectsLLM(t *testing.T) {
	t.Parallel()

	req := CrawlRequest{URLs: URLList{"https://example.com"}, UseLLM: true}
	err := req.Validate()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestCrawlRequest_ValidateRequiresURLs(t *testing.T) {
	t.Parallel()

	require.Error(t, CrawlRequest{}.Validate())
	require.Error(t, CrawlRequest{URLs: URLList{""}}.Validate())
}

func TestCrawlRequest_ValidatePriorityBounds(t *testing.T) {
	t.Parallel()

	req := CrawlRequest{URLs: URLList{"https://example.com"}, Priority: 11}
	require.Error(t, req.Validate())

	req.Priority = 10
	require.NoError(t, req.Validate())
}

func TestCrawlRequest_NormalizeDefaults(t *testing.T) {
	t.Parallel()

	got := CrawlRequest{URLs: URLList{"https://example.com"}}.Normalize()
	require.Equal(t, DefaultPriority, got.Priority)
	require.Equal(t, FilterPruning, got.ContentFilter)
	require.Equal(t, WaitDOMContentLoaded, got.WaitFor)
	require.Equal(t, DefaultPageTimeoutMs, got.PageTimeoutMs)
	require.NotNil(t, got.ExtractJSON)
	require.True(t, *got.ExtractJSON)
	require.NotNil(t, got.FilterThreshold)
	require.InDelta(t, DefaultFilterThreshold, *got.FilterThreshold, 1e-9)
}

func TestCrawlRequest_NormalizeClampsTimeout(t *testing.T) {
	t.Parallel()

	low := CrawlRequest{URLs: URLList{"u"}, PageTimeoutMs: 10}.Normalize()
	require.Equal(t, MinPageTimeoutMs, low.PageTimeoutMs)

	high := CrawlRequest{URLs: URLList{"u"}, PageTimeoutMs: 90000}.Normalize()
	require.Equal(t, MaxPageTimeoutMs, high.PageTimeoutMs)
}

func TestCrawlRequest_NormalizeRemapsNetworkIdle0(t *testing.T) {
	t.Parallel()

	got := CrawlRequest{URLs: URLList{"u"}, WaitFor: WaitNetworkIdle0}.Normalize()
	require.Equal(t, WaitDOMContentLoaded, got.WaitFor)

	kept := CrawlRequest{URLs: URLList{"u"}, WaitFor: WaitNetworkIdle2}.Normalize()
	require.Equal(t, WaitNetworkIdle2, kept.WaitFor)
}

func TestCrawlRequest_SchemaDisabledByExtractJSON(t *testing.T) {
	t.Parallel()

	no := false
	req := CrawlRequest{
		URLs:         URLList{"u"},
		ExtractJSON:  &no,
		CustomSchema: json.RawMessage(`{"name":"s","fields":[{"name":"t","selector":"h1","type":"text"}]}`),
	}
	require.Nil(t, req.Schema())

	req.ExtractJSON = nil
	require.NotNil(t, req.Schema())
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	require.True(t, IsTimeout(context.DeadlineExceeded))
	require.True(t, IsTimeout(errors.New("navigation Timeout exceeded")))
	require.True(t, IsTimeout(fmt.Errorf("render: %w", context.DeadlineExceeded)))
	require.False(t, IsTimeout(errors.New("connection refused")))
	require.False(t, IsTimeout(nil))
}

func TestRenderFailureClassification(t *testing.T) {
	t.Parallel()

	err := NewRenderFailure("https://example.com", "status 500")
	require.True(t, IsRenderFailure(err))
	require.True(t, IsRenderFailure(fmt.Errorf("wrap: %w", err)))
	require.False(t, IsRenderFailure(errors.New("boom")))
}
