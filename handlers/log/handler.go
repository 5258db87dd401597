// Package log serves GET /log/{name}, streaming the build log for a
// store path via the gateway, per spec §4.6.
package log

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-h/nixcache/gateway"
)

// New constructs a Handler. The gateway's store directory is used to
// qualify the bare name in the URL into a full store path.
func New(log *slog.Logger, gw *gateway.Gateway) Handler {
	return Handler{
		log:     log,
		gateway: gw,
	}
}

// Handler streams build logs.
type Handler struct {
	log     *slog.Logger
	gateway *gateway.Gateway
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	storePath := h.gateway.StoreDir() + "/" + r.PathValue("name")

	w.Header().Set("Content-Type", "text/plain")
	if err := h.gateway.StreamBuildLog(r.Context(), storePath, w); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			http.Error(w, "No such path.\n", http.StatusNotFound)
			return
		}
		h.log.Error("failed to stream build log", slog.String("store_path", storePath), slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
