// Package logger provides the outermost HTTP middleware: one slog line
// per request, with status code, response size, and duration.
package logger

import (
	"log/slog"
	"net/http"
	"time"
)

func New(log *slog.Logger, next http.Handler) http.Handler {
	return &Middleware{log: log, next: next}
}

type Middleware struct {
	log  *slog.Logger
	next http.Handler
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	m.next.ServeHTTP(sw, r)
	m.log.Info(r.URL.Path,
		slog.String("method", r.Method),
		slog.Int("status", sw.status),
		slog.Int64("bytes", sw.bytes),
		slog.Int64("ms", time.Since(start).Milliseconds()),
	)
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}
