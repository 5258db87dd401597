package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/metrics"
	"github.com/a-h/nixcache/signer"
	"github.com/a-h/nixcache/storage"
	"github.com/a-h/nixcache/store"
)

func TestNewServesCacheInfo(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	kvStore, closer, err := store.New(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer closer()

	gw := gateway.New(kvStore, storage.NewFileSystem(t.TempDir()), "/nix/store")
	s, err := signer.New("")
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	h := New(slog.New(slog.DiscardHandler), gw, nil, s, metrics.Metrics{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/nix-cache-info", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d", http.StatusOK, w.Code)
	}
}
