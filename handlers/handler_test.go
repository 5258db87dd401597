package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/metrics"
	"github.com/a-h/nixcache/signer"
	"github.com/a-h/nixcache/storage"
	"github.com/a-h/nixcache/store"
)

func newTestDispatcher(t *testing.T) (http.Handler, *gateway.Gateway) {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	kvStore, closer, err := store.New(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { closer() })

	gw := gateway.New(kvStore, storage.NewFileSystem(t.TempDir()), "/nix/store")
	s, err := signer.New("")
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return New(slog.New(slog.DiscardHandler), gw, nil, s, metrics.Metrics{}, nil), gw
}

func TestCacheInfoRoute(t *testing.T) {
	h, _ := newTestDispatcher(t)
	r := httptest.NewRequest(http.MethodGet, "/nix-cache-info", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d", http.StatusOK, w.Code)
	}
	want := "StoreDir: /nix/store\nWantMassQuery: 1\nPriority: 30\n"
	if w.Body.String() != want {
		t.Fatalf("expected body:\n%s\ngot:\n%s", want, w.Body.String())
	}
}

func TestNarinfoRouteUnknownPathWithNoUpstreams(t *testing.T) {
	h, _ := newTestDispatcher(t)
	r := httptest.NewRequest(http.MethodGet, "/zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz.narinfo", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
	if w.Body.String() != "No such path.\n" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestLegacyNarRoute(t *testing.T) {
	h, gw := newTestDispatcher(t)
	storePath := "/nix/store/abc123xyzabc123xyzabc123xyzabc1-hello"
	meta := gateway.Import{NarHash: "sha256:0z8435id4avn01wc5c8dk4bc5z5fb0sm262lwipycy8bqsd3h7lv", NarSize: int64(len("nar-bytes"))}
	if err := gw.RestorePath(context.Background(), storePath, meta, strings.NewReader("nar-bytes")); err != nil {
		t.Fatalf("failed to restore fixture: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/nar/"+gateway.HashPart(storePath)+".nar", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d with body:\n%s", http.StatusOK, w.Code, w.Body.String())
	}
	if w.Body.String() != "nar-bytes" {
		t.Fatalf("expected body %q, got %q", "nar-bytes", w.Body.String())
	}
}

func TestUnknownRouteIsFileNotFound(t *testing.T) {
	h, _ := newTestDispatcher(t)
	r := httptest.NewRequest(http.MethodGet, "/totally/unknown", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
	if w.Body.String() != "File not found.\n" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestDispatcher(t)
	r := httptest.NewRequest(http.MethodPost, "/nix-cache-info", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status code %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}
