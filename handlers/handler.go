// Package handlers implements the Request Dispatcher from spec §4.6:
// exactly five route shapes, matched in order, with all other URL
// status-code mapping concentrated here rather than in the inner
// components.
package handlers

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/a-h/nixcache/downloadcounter"
	"github.com/a-h/nixcache/fetch"
	"github.com/a-h/nixcache/gateway"
	loghandler "github.com/a-h/nixcache/handlers/log"
	narhandler "github.com/a-h/nixcache/handlers/nar"
	narinfohandler "github.com/a-h/nixcache/handlers/narinfo"
	"github.com/a-h/nixcache/handlers/nixcacheinfo"
	"github.com/a-h/nixcache/metrics"
	"github.com/a-h/nixcache/signer"
)

// New assembles the top-level dispatcher. fetcher may be nil, meaning
// no upstreams are configured (invariant 6): every local miss is then
// terminal, with no upstream traffic ever issued. m and counter are
// optional; their zero values record nothing.
func New(log *slog.Logger, gw *gateway.Gateway, fetcher *fetch.Fetcher, s *signer.Signer, m metrics.Metrics, counter chan<- downloadcounter.DownloadEvent) http.Handler {
	var nif narinfohandler.Fetcher
	var naf narhandler.Fetcher
	if fetcher != nil {
		nif, naf = fetcher, fetcher
	}

	nci := nixcacheinfo.New(gw.StoreDir(), s)
	nih := narinfohandler.New(log, gw, nif, s, m, counter)
	nh := narhandler.New(log, gw, naf, m)
	lh := loghandler.New(log, gw)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if r.URL.Path == "/nix-cache-info" {
			nci.ServeHTTP(w, r)
			return
		}

		if strings.HasSuffix(r.URL.Path, ".narinfo") {
			hashPart := strings.TrimSuffix(path.Base(r.URL.Path), ".narinfo")
			r.SetPathValue("hashpart", hashPart)
			nih.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/nar/") && strings.HasSuffix(r.URL.Path, ".nar") {
			leaf := strings.TrimSuffix(path.Base(r.URL.Path), ".nar")
			hashPart, narHash, _ := strings.Cut(leaf, "-")
			r.SetPathValue("hashpart", hashPart)
			r.SetPathValue("narhash", narHash)
			nh.ServeHTTP(w, r)
			return
		}

		if name, ok := strings.CutPrefix(r.URL.Path, "/log/"); ok && name != "" {
			r.SetPathValue("name", name)
			lh.ServeHTTP(w, r)
			return
		}

		http.Error(w, "File not found.\n", http.StatusNotFound)
	})
}
