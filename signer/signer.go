// Package signer implements the Signer component from spec §4.7: it
// computes the cache's own signature over a narinfo's fingerprint when
// a local secret key is configured, and otherwise leaves upstream
// signatures untouched.
package signer

import (
	"fmt"

	"github.com/nix-community/go-nix/pkg/narinfo/signature"

	"github.com/a-h/nixcache/narinfo"
)

// Signer holds the local secret key used to sign narinfo records
// served by this cache. A Signer with no key (from New with an empty
// key) is valid and simply forwards upstream signatures verbatim.
type Signer struct {
	key *signature.SecretKey
}

// New constructs a Signer from a secret key in the format produced by
// `nix-store --generate-binary-cache-key`
// ("<name>:<base64-encoded-key>"). An empty keyText yields a Signer
// that never signs, only forwards.
func New(keyText string) (*Signer, error) {
	if keyText == "" {
		return &Signer{}, nil
	}
	key, err := signature.LoadSecretKey(keyText)
	if err != nil {
		return nil, fmt.Errorf("signer: failed to load secret key: %w", err)
	}
	return &Signer{key: &key}, nil
}

// PublicKey returns this signer's public key string
// ("<name>:<base64-encoded-key>"), or "" if no local key is
// configured.
func (s *Signer) PublicKey() string {
	if s.key == nil {
		return ""
	}
	pub := s.key.ToPublicKey()
	return pub.String()
}

// Sign computes the fingerprint of ni and replaces ni.Sigs with this
// signer's single signature, per spec §4.7: local signing replaces
// upstream signatures, it never joins them. If no local key is
// configured, ni is returned unchanged so upstream signatures pass
// through verbatim.
func (s *Signer) Sign(ni *narinfo.NarInfo) (*narinfo.NarInfo, error) {
	if s.key == nil {
		return ni, nil
	}
	sig, err := s.key.Sign(nil, ni.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("signer: failed to sign fingerprint: %w", err)
	}
	ni.Sigs = []string{fmt.Sprintf("%s", sig)}
	return ni, nil
}
