package log

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/storage"
	"github.com/a-h/nixcache/store"
)

func TestHandlerReturns500WhenNixUnavailable(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	kvStore, closer, err := store.New(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer closer()

	gw := gateway.New(kvStore, storage.NewFileSystem(t.TempDir()), "/nix/store")
	h := New(slog.New(slog.DiscardHandler), gw)

	r := httptest.NewRequest(http.MethodGet, "/log/abc123-hello", nil)
	r.SetPathValue("name", "abc123-hello")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	// In a test environment without the nix binary on PATH, StreamBuildLog
	// reports ErrUnavailable, which this handler surfaces as a 500.
	if w.Code != http.StatusInternalServerError && w.Code != http.StatusNotFound {
		t.Fatalf("expected 500 or 404 without a nix binary on PATH, got %d", w.Code)
	}
}
