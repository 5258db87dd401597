package nar

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
	"github.com/a-h/nixcache/storage"
	"github.com/a-h/nixcache/store"
)

func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	kvStore, closer, err := store.New(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { closer() })
	return gateway.New(kvStore, storage.NewFileSystem(t.TempDir()), "/nix/store")
}

func restoreFixture(t *testing.T, gw *gateway.Gateway) (storePath, hashPart, n52 string) {
	t.Helper()
	storePath = "/nix/store/abc123xyzabc123xyzabc123xyzabc1-hello"
	hashPart = gateway.HashPart(storePath)
	n52 = "0z8435id4avn01wc5c8dk4bc5z5fb0sm262lwipycy8bqsd3h7lv"
	meta := gateway.Import{NarHash: "sha256:" + n52, NarSize: int64(len("nar-bytes"))}
	if err := gw.RestorePath(context.Background(), storePath, meta, strings.NewReader("nar-bytes")); err != nil {
		t.Fatalf("failed to restore fixture: %v", err)
	}
	return storePath, hashPart, n52
}

func TestHandlerHashedRouteServesArchive(t *testing.T) {
	gw := newTestGateway(t)
	_, hashPart, n52 := restoreFixture(t, gw)

	h := New(slog.New(slog.DiscardHandler), gw, nil, metrics.Metrics{})

	r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/nar/%s-%s.nar", hashPart, n52), nil)
	r.SetPathValue("hashpart", hashPart)
	r.SetPathValue("narhash", n52)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d with body:\n%s", http.StatusOK, w.Code, w.Body.String())
	}
	if w.Body.String() != "nar-bytes" {
		t.Fatalf("expected body %q, got %q", "nar-bytes", w.Body.String())
	}
	if got := w.Header().Get("Content-Length"); got != "9" {
		t.Fatalf("expected Content-Length 9, got %q", got)
	}
}

func TestHandlerHashedRouteRejectsWrongHash(t *testing.T) {
	gw := newTestGateway(t)
	_, hashPart, _ := restoreFixture(t, gw)

	h := New(slog.New(slog.DiscardHandler), gw, nil, metrics.Metrics{})

	r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/nar/%s-%s.nar", hashPart, strings.Repeat("1", 52)), nil)
	r.SetPathValue("hashpart", hashPart)
	r.SetPathValue("narhash", strings.Repeat("1", 52))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
	if w.Body.String() != "Incorrect NAR hash. Maybe the path has been recreated.\n" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestHandlerLegacyRouteSkipsHashCheck(t *testing.T) {
	gw := newTestGateway(t)
	_, hashPart, _ := restoreFixture(t, gw)

	h := New(slog.New(slog.DiscardHandler), gw, nil, metrics.Metrics{})

	r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/nar/%s.nar", hashPart), nil)
	r.SetPathValue("hashpart", hashPart)
	r.SetPathValue("narhash", "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d with body:\n%s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestHandlerUnknownHashPart(t *testing.T) {
	gw := newTestGateway(t)
	h := New(slog.New(slog.DiscardHandler), gw, nil, metrics.Metrics{})

	r := httptest.NewRequest(http.MethodGet, "/nar/zzz.nar", nil)
	r.SetPathValue("hashpart", "zzz")
	r.SetPathValue("narhash", "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
	if w.Body.String() != "No such path.\n" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}
