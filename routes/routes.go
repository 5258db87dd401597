// Package routes assembles the top-level HTTP handler: the dispatcher
// in package handlers, wrapped with request logging.
package routes

import (
	"log/slog"
	"net/http"

	"github.com/a-h/nixcache/downloadcounter"
	"github.com/a-h/nixcache/fetch"
	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/handlers"
	"github.com/a-h/nixcache/metrics"
	"github.com/a-h/nixcache/middleware/logger"
	"github.com/a-h/nixcache/signer"
)

func New(log *slog.Logger, gw *gateway.Gateway, fetcher *fetch.Fetcher, s *signer.Signer, m metrics.Metrics, counter chan<- downloadcounter.DownloadEvent) http.Handler {
	h := handlers.New(log, gw, fetcher, s, m, counter)
	return logger.New(log, h)
}
