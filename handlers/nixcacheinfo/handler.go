// Package nixcacheinfo serves the static /nix-cache-info response
// described in spec §6.
package nixcacheinfo

import (
	"fmt"
	"net/http"

	"github.com/a-h/nixcache/signer"
)

// New constructs a Handler for the given store directory and signer.
func New(storeDir string, s *signer.Signer) Handler {
	return Handler{
		storeDir: storeDir,
		signer:   s,
	}
}

// Handler serves /nix-cache-info.
type Handler struct {
	storeDir string
	signer   *signer.Signer
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "StoreDir: %s\nWantMassQuery: 1\nPriority: 30\n", h.storeDir)
	if pub := h.signer.PublicKey(); pub != "" {
		fmt.Fprintf(w, "PublicKey: %s\n", pub)
	}
}
