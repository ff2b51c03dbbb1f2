package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<html><body>snapshot</body></html>")
	uri, err := store.PutObject(context.Background(), "pages/task-1.html", "text/html", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://pages/task-1.html" {
		t.Fatalf("unexpected uri %s", uri)
	}

	payload[1] = 'X'
	stored, ok := store.Object("pages/task-1.html")
	if !ok {
		t.Fatal("expected object to exist")
	}
	if string(stored) != "<html><body>snapshot</body></html>" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestBlobStoreObjectMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, ok := store.Object("nope"); ok {
		t.Fatal("expected missing object")
	}
}
