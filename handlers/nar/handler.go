// Package nar serves GET /nar/{hashpart}-{narhash}.nar and the legacy
// GET /nar/{hashpart}.nar, per spec §4.6.
package nar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/nixcache/fetch"
	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/metrics"
)

// Fetcher resolves a hash part against upstream caches on a local
// miss.
type Fetcher interface {
	Fetch(ctx context.Context, hashPart string) (storePath string, err error)
}

// New constructs a Handler. fetcher may be nil, meaning every local
// miss is a terminal miss, per invariant 6.
func New(log *slog.Logger, gw *gateway.Gateway, fetcher Fetcher, m metrics.Metrics) Handler {
	return Handler{
		log:     log,
		gateway: gw,
		fetcher: fetcher,
		metrics: m,
	}
}

// Handler streams NAR archives.
type Handler struct {
	log     *slog.Logger
	gateway *gateway.Gateway
	fetcher Fetcher
	metrics metrics.Metrics
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hashPart := r.PathValue("hashpart")
	narHash := r.PathValue("narhash")

	storePath, err := h.gateway.LookupByHashPart(r.Context(), hashPart)
	if errors.Is(err, gateway.ErrNotFound) && h.fetcher != nil {
		storePath, err = h.fetcher.Fetch(r.Context(), hashPart)
		if errors.Is(err, fetch.ErrMiss) {
			err = gateway.ErrNotFound
		}
	}
	if errors.Is(err, gateway.ErrNotFound) {
		http.Error(w, "No such path.\n", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("failed to resolve hash part", slog.String("hash_part", hashPart), slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if narHash != "" {
		info, err := h.gateway.QueryPathInfo(r.Context(), storePath)
		if err != nil {
			h.log.Error("failed to query path info", slog.String("store_path", storePath), slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		n52 := strings.TrimPrefix(info.NarHash, "sha256:")
		if n52 != narHash {
			http.Error(w, "Incorrect NAR hash. Maybe the path has been recreated.\n", http.StatusNotFound)
			return
		}
	}

	size, body, err := h.gateway.StreamPath(r.Context(), storePath)
	if errors.Is(err, gateway.ErrNotFound) {
		http.Error(w, "No such path.\n", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("failed to stream path", slog.String("store_path", storePath), slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	n, err := io.Copy(w, body)
	h.metrics.IncrementDownloadMetrics(r.Context(), n)
	if err != nil {
		h.log.Error("failed to serve archive", slog.String("store_path", storePath), slog.Any("error", err))
	}
}
