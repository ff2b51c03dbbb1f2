package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/renderbot/crawlserve/internal/crawler"
)

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	renderer, err := New(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer renderer.Close()
	if cap(renderer.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(renderer.limiter))
	}
}

func TestWaitActionsMapping(t *testing.T) {
	t.Parallel()

	if got := waitActions(crawler.WaitDOMContentLoaded); len(got) != 1 {
		t.Fatalf("expected single wait action, got %d", len(got))
	}
	if got := waitActions(crawler.WaitLoad); len(got) != 1 {
		t.Fatalf("expected single wait action, got %d", len(got))
	}
	// The idle conditions add a settling sleep after body readiness.
	if got := waitActions(crawler.WaitNetworkIdle2); len(got) != 2 {
		t.Fatalf("expected wait plus settle, got %d", len(got))
	}
	if got := waitActions(""); len(got) != 1 {
		t.Fatalf("expected default wait action, got %d", len(got))
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 204,
			URL:    "https://example.com/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 204 || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d url=%s", status, url)
	}

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}

	// Subresource responses never overwrite the document response.
	meta = newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/x.png"},
	})
	status, url = meta.snapshotWithFallbacks("https://req", "")
	if status != http.StatusOK || url != "https://req" {
		t.Fatalf("expected untouched meta, got status=%d url=%s", status, url)
	}
}

func TestWaitDomainSharesLimiterPerHost(t *testing.T) {
	t.Parallel()

	renderer, err := New(Config{DomainQPS: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer renderer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := renderer.waitDomain(ctx, "https://example.com/a"); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
	}
	if err := renderer.waitDomain(ctx, "https://other.example/b"); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}

	renderer.mu.Lock()
	count := len(renderer.limiters)
	renderer.mu.Unlock()
	if count != 2 {
		t.Fatalf("expected one limiter per host, got %d", count)
	}
}

func TestSessionContextReuse(t *testing.T) {
	t.Parallel()

	renderer, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer renderer.Close()

	first, err := renderer.sessionContext("session_0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := renderer.sessionContext("session_0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatal("expected the same tab context for the same session")
	}

	other, err := renderer.sessionContext("session_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == first {
		t.Fatal("expected separate tab contexts for separate sessions")
	}
}
