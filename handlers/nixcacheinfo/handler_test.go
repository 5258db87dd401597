package nixcacheinfo

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nix-community/go-nix/pkg/narinfo/signature"

	"github.com/a-h/nixcache/signer"
)

func generateTestKeypair(t *testing.T) (keyText, publicKeyText string) {
	t.Helper()
	sk, pk, err := signature.GenerateKeypair("test-cache-1", nil)
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}
	return sk.String(), pk.String()
}

func TestHandler(t *testing.T) {
	t.Run("cache info is returned with no public key", func(t *testing.T) {
		s, err := signer.New("")
		if err != nil {
			t.Fatalf("failed to create signer: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/nix-cache-info", nil)
		w := httptest.NewRecorder()

		h := New("/nix/store", s)
		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status code %d, got %d", http.StatusOK, w.Code)
		}
		want := "StoreDir: /nix/store\nWantMassQuery: 1\nPriority: 30\n"
		if w.Body.String() != want {
			t.Fatalf("expected body:\n%s\ngot:\n%s", want, w.Body.String())
		}
	})

	t.Run("public key is included when a signer key is configured", func(t *testing.T) {
		keyText, publicKeyText := generateTestKeypair(t)
		s, err := signer.New(keyText)
		if err != nil {
			t.Fatalf("failed to create signer: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/nix-cache-info", nil)
		w := httptest.NewRecorder()

		h := New("/nix/store", s)
		h.ServeHTTP(w, req)

		want := "StoreDir: /nix/store\nWantMassQuery: 1\nPriority: 30\nPublicKey: " + publicKeyText + "\n"
		if w.Body.String() != want {
			t.Fatalf("expected body:\n%s\ngot:\n%s", want, w.Body.String())
		}
	})
}
