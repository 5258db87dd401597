// Package gateway implements the Store Gateway: the capability
// abstraction over the local package store described in spec §4.1. It
// resolves hash parts to store paths, answers metadata queries, and
// streams or restores NAR archives. Narinfo records are kept in a
// key/value store (package store); NAR bytes live in a Storage
// backend (package storage).
package gateway

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/kv"
	"github.com/nix-community/go-nix/pkg/nixbase32"

	"github.com/a-h/nixcache/narinfo"
	"github.com/a-h/nixcache/storage"
)

// ErrNotFound is returned when a store path or hash part has no local
// record.
var ErrNotFound = errors.New("gateway: not found")

// ErrUnavailable is returned when the backing store or blob storage
// cannot service a request.
var ErrUnavailable = errors.New("gateway: store unavailable")

// ErrContentMismatch is returned by RestorePath when the bytes just
// written do not hash to the content address claimed by the import
// metadata, per spec §4.1's content-integrity requirement.
var ErrContentMismatch = errors.New("gateway: content hash mismatch")

// PathInfo is the metadata queryPathInfo returns, per spec §4.1.
type PathInfo struct {
	StorePath        string
	Deriver          string
	NarHash          string
	RegistrationTime time.Time
	NarSize          int64
	References       []string
	Sigs             []string
}

// Gateway implements the Store Gateway capability.
type Gateway struct {
	store    kv.Store
	blobs    storage.Storage
	storeDir string
}

// New creates a Gateway rooted at storeDir (e.g. "/nix/store"), backed
// by store for narinfo metadata and blobs for NAR bytes.
func New(store kv.Store, blobs storage.Storage, storeDir string) *Gateway {
	return &Gateway{
		store:    store,
		blobs:    blobs,
		storeDir: storeDir,
	}
}

// StoreDir returns the configured store directory.
func (g *Gateway) StoreDir() string { return g.storeDir }

type record struct {
	NarInfo          string `kv:"ni"`
	RegistrationTime int64  `kv:"rt"`
}

func narInfoKey(hashPart string) string {
	return "/narinfo/" + hashPart
}

func narBlobName(hashPart string) string {
	return filepath.Join("nar", hashPart+".nar")
}

// HashPart extracts the hash part from a store path's leaf name.
func HashPart(storePath string) string {
	leaf := storePath
	if idx := strings.LastIndexByte(leaf, '/'); idx >= 0 {
		leaf = leaf[idx+1:]
	}
	if idx := strings.IndexByte(leaf, '-'); idx >= 0 {
		return leaf[:idx]
	}
	return leaf
}

func (g *Gateway) getRecord(ctx context.Context, hashPart string) (*narinfo.NarInfo, bool, error) {
	var rec record
	_, ok, err := g.store.Get(ctx, narInfoKey(hashPart), &rec)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}
	ni, err := narinfo.Parse(strings.NewReader(rec.NarInfo))
	if err != nil {
		return nil, false, fmt.Errorf("%w: corrupt narinfo record for %s: %w", ErrUnavailable, hashPart, err)
	}
	return ni, true, nil
}

// LookupByHashPart resolves the canonical store path for hashPart, or
// ErrNotFound if no local record exists.
func (g *Gateway) LookupByHashPart(ctx context.Context, hashPart string) (storePath string, err error) {
	ni, ok, err := g.getRecord(ctx, hashPart)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return ni.StorePath, nil
}

// QueryPathInfo returns the metadata recorded for storePath.
func (g *Gateway) QueryPathInfo(ctx context.Context, storePath string) (PathInfo, error) {
	hashPart := HashPart(storePath)

	var rec record
	_, ok, err := g.store.Get(ctx, narInfoKey(hashPart), &rec)
	if err != nil {
		return PathInfo{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !ok {
		return PathInfo{}, ErrNotFound
	}

	ni, err := narinfo.Parse(strings.NewReader(rec.NarInfo))
	if err != nil {
		return PathInfo{}, fmt.Errorf("%w: corrupt narinfo record for %s: %w", ErrUnavailable, hashPart, err)
	}

	return PathInfo{
		StorePath:        ni.StorePath,
		Deriver:          ni.Deriver,
		NarHash:          ni.NarHash,
		RegistrationTime: time.Unix(rec.RegistrationTime, 0).UTC(),
		NarSize:          ni.NarSize,
		References:       ni.References,
		Sigs:             ni.Sigs,
	}, nil
}

// StreamPath opens the decompressed NAR bytes for storePath. The
// caller must close the returned reader.
func (g *Gateway) StreamPath(ctx context.Context, storePath string) (size int64, body io.ReadCloser, err error) {
	hashPart := HashPart(storePath)

	size, exists, err := g.blobs.Stat(ctx, narBlobName(hashPart))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !exists {
		return 0, nil, ErrNotFound
	}

	r, exists, err := g.blobs.Get(ctx, narBlobName(hashPart))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !exists {
		return 0, nil, ErrNotFound
	}
	return size, r, nil
}

// Import is the metadata supplied alongside a restored archive: the
// fields that can't be derived purely from NAR bytes, taken from the
// upstream narinfo that led to this fetch.
type Import struct {
	NarHash    string
	NarSize    int64
	References []string
	Deriver    string
	Sigs       []string
}

// RestorePath materializes body under storePath, recording the given
// import metadata. It is idempotent: restoring the same store path
// twice simply overwrites the existing blob and record, so a second
// writer racing a first one observes a consistent result rather than
// a conflict. The written bytes are hashed as they're copied and
// checked against meta.NarHash before the narinfo record is
// committed, per spec §4.1's content-integrity requirement: a path
// whose bytes don't match its claimed content address is never
// registered as locally present.
func (g *Gateway) RestorePath(ctx context.Context, storePath string, meta Import, body io.Reader) error {
	hashPart := HashPart(storePath)

	w, err := g.blobs.Put(ctx, narBlobName(hashPart))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	h := sha256.New()
	if _, err := io.Copy(w, io.TeeReader(body, h)); err != nil {
		w.Close()
		return fmt.Errorf("%w: failed to write nar blob: %w", ErrUnavailable, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: failed to finalize nar blob: %w", ErrUnavailable, err)
	}

	wantDigest := strings.TrimPrefix(meta.NarHash, "sha256:")
	gotDigest := nixbase32.EncodeToString(h.Sum(nil))
	if gotDigest != wantDigest {
		return fmt.Errorf("%w: restored content for %s hashes to %s, advertised NarHash was sha256:%s", ErrContentMismatch, storePath, gotDigest, wantDigest)
	}

	ni := &narinfo.NarInfo{
		StorePath:   storePath,
		URL:         "nar/" + hashPart + ".nar",
		Compression: "none",
		NarHash:     meta.NarHash,
		NarSize:     meta.NarSize,
		References:  meta.References,
		Deriver:     meta.Deriver,
		Sigs:        meta.Sigs,
	}

	rec := record{
		NarInfo:          ni.String(),
		RegistrationTime: nowFn().Unix(),
	}
	if err := g.store.Put(ctx, narInfoKey(hashPart), -1, rec); err != nil {
		return fmt.Errorf("%w: failed to record narinfo: %w", ErrUnavailable, err)
	}
	return nil
}

var nowFn = time.Now
