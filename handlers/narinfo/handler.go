// Package narinfo serves GET /{hashpart}.narinfo: a local lookup that
// falls through to a pull-through fetch on miss, per spec §4.6, then
// composes and signs the egress narinfo per spec §4.7.
package narinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/nixcache/downloadcounter"
	"github.com/a-h/nixcache/fetch"
	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/metrics"
	nir "github.com/a-h/nixcache/narinfo"
	"github.com/a-h/nixcache/signer"
)

// Fetcher resolves a hash part against upstream caches on a local
// miss. Satisfied by *fetch.Fetcher; an interface here so a nil
// upstream-list configuration can be represented by a nil Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, hashPart string) (storePath string, err error)
}

// New constructs a Handler. fetcher may be nil, meaning every local
// miss is a terminal miss (no upstreams configured), per invariant 6.
// m and counter are optional (zero value and nil respectively are
// both safe) and record operational hit/miss/fetch-duration data.
func New(log *slog.Logger, gw *gateway.Gateway, fetcher Fetcher, s *signer.Signer, m metrics.Metrics, counter chan<- downloadcounter.DownloadEvent) Handler {
	return Handler{
		log:     log,
		gateway: gw,
		fetcher: fetcher,
		signer:  s,
		metrics: m,
		counter: counter,
	}
}

// Handler serves narinfo lookups.
type Handler struct {
	log     *slog.Logger
	gateway *gateway.Gateway
	fetcher Fetcher
	signer  *signer.Signer
	metrics metrics.Metrics
	counter chan<- downloadcounter.DownloadEvent
}

func (h Handler) recordDownload(source, hashPart string) {
	if h.counter == nil {
		return
	}
	select {
	case h.counter <- downloadcounter.DownloadEvent{Source: source, HashPart: hashPart}:
	default:
		h.log.Warn("download counter buffer full, dropping event", slog.String("source", source), slog.String("hash_part", hashPart))
	}
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hashPart := r.PathValue("hashpart")

	storePath, err := h.gateway.LookupByHashPart(r.Context(), hashPart)
	if errors.Is(err, gateway.ErrNotFound) && h.fetcher != nil {
		fetchStart := time.Now()
		storePath, err = h.fetcher.Fetch(r.Context(), hashPart)
		if err == nil {
			h.metrics.IncrementUpstreamHit(r.Context(), "pull-through", time.Since(fetchStart))
			h.recordDownload(downloadcounter.SourceUpstream, hashPart)
		} else if !errors.Is(err, fetch.ErrMiss) {
			h.metrics.IncrementFetchError(r.Context(), "pull-through")
		}
		if errors.Is(err, fetch.ErrMiss) {
			err = gateway.ErrNotFound
		}
	} else if err == nil {
		h.metrics.IncrementLocalHit(r.Context())
		h.recordDownload(downloadcounter.SourceLocal, hashPart)
	}
	if errors.Is(err, gateway.ErrNotFound) {
		h.metrics.IncrementMiss(r.Context())
		http.Error(w, "No such path.\n", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("failed to resolve hash part", slog.String("hash_part", hashPart), slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	info, err := h.gateway.QueryPathInfo(r.Context(), storePath)
	if err != nil {
		h.log.Error("failed to query path info", slog.String("store_path", storePath), slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	n52 := strings.TrimPrefix(info.NarHash, "sha256:")

	ni := &nir.NarInfo{
		StorePath:   info.StorePath,
		URL:         fmt.Sprintf("nar/%s-%s.nar", hashPart, n52),
		Compression: "none",
		NarHash:     info.NarHash,
		NarSize:     info.NarSize,
		References:  info.References,
		Deriver:     info.Deriver,
		Sigs:        info.Sigs,
	}
	ni, err = h.signer.Sign(ni)
	if err != nil {
		h.log.Error("failed to sign narinfo", slog.String("store_path", storePath), slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	output := ni.String()
	w.Header().Set("Content-Type", nir.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(output)))
	if _, err := w.Write([]byte(output)); err != nil {
		h.log.Error("failed to write narinfo response", slog.Any("error", err))
	}
}
