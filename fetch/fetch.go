// Package fetch implements the Pull-Through Fetcher from spec §4.5: on
// a local miss, it probes the configured upstream caches in order,
// and on the first one that yields a syntactically valid narinfo
// whose archive downloads, decompresses, and restores, the fetch
// succeeds.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/a-h/nixcache/decompress"
	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/narinfo"
	"github.com/a-h/nixcache/upstream"
)

// ErrMiss is returned when no configured upstream yields the
// requested hash part.
var ErrMiss = errors.New("fetch: miss")

// Fetcher orchestrates the probe -> parse -> download -> decompress
// -> restore pipeline across an ordered list of upstream caches.
type Fetcher struct {
	log       *slog.Logger
	gateway   *gateway.Gateway
	upstream  *upstream.Client
	upstreams []string
	tmpDir    string
}

// New constructs a Fetcher. upstreams is the ordered, non-empty list
// of upstream cache base URLs; order is authoritative, per spec §3.
// Restored records keep the upstream's raw signatures; the Signer is
// applied at emission time by the dispatcher, not here, so that local
// signing always reflects the current key even if it changes after a
// path has been restored.
func New(log *slog.Logger, gw *gateway.Gateway, client *upstream.Client, upstreams []string, tmpDir string) *Fetcher {
	return &Fetcher{
		log:       log,
		gateway:   gw,
		upstream:  client,
		upstreams: upstreams,
		tmpDir:    tmpDir,
	}
}

// Fetch attempts to resolve hashPart by probing every configured
// upstream in order, per spec §4.5's algorithm. It returns the
// resolved store path, or ErrMiss if no upstream succeeds.
func (f *Fetcher) Fetch(ctx context.Context, hashPart string) (storePath string, err error) {
	for _, base := range f.upstreams {
		storePath, err := f.tryUpstream(ctx, base, hashPart)
		if err != nil {
			f.log.Debug("upstream did not yield path, trying next", slog.String("upstream", base), slog.String("hash_part", hashPart), slog.Any("error", err))
			continue
		}
		return storePath, nil
	}
	return "", ErrMiss
}

func (f *Fetcher) tryUpstream(ctx context.Context, base, hashPart string) (string, error) {
	narinfoURL := upstream.Base(base, hashPart+".narinfo")

	body, err := f.upstream.GetBytes(ctx, narinfoURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch narinfo: %w", err)
	}

	ni, err := narinfo.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse narinfo: %w", err)
	}
	if ni.StorePath == "" || ni.URL == "" {
		return "", fmt.Errorf("narinfo missing StorePath or URL")
	}

	compression := ni.Compression
	if compression == "" {
		compression = "none"
	}
	narURL := upstream.Base(base, ni.URL)

	archivePath, err := f.downloadToTemp(ctx, narURL, hashPart)
	if err != nil {
		return "", fmt.Errorf("failed to download archive: %w", err)
	}

	result, err := decompress.Open(compression, archivePath, ni.NarSize)
	if err != nil {
		return "", fmt.Errorf("failed to decompress archive: %w", err)
	}
	defer result.Close()

	meta := gateway.Import{
		NarHash:    ni.NarHash,
		NarSize:    ni.NarSize,
		References: ni.References,
		Deriver:    ni.Deriver,
		Sigs:       ni.Sigs,
	}

	if err := f.gateway.RestorePath(ctx, ni.StorePath, meta, result.Reader); err != nil {
		// Two simultaneous misses may both attempt a restore, per spec
		// §4.5's concurrency note. Re-check before treating this as a
		// genuine failure: a concurrent winning restore should be
		// observed as a hit, not a spurious miss.
		if resolved, lookupErr := f.gateway.LookupByHashPart(ctx, hashPart); lookupErr == nil {
			return resolved, nil
		}
		return "", fmt.Errorf("failed to restore path: %w", err)
	}

	return ni.StorePath, nil
}

func (f *Fetcher) downloadToTemp(ctx context.Context, url, hashPart string) (string, error) {
	tmp, err := os.CreateTemp(f.tmpDir, "nixcached-"+hashPart+"-*.archive")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	destPath := tmp.Name()
	tmp.Close()

	if _, err := f.upstream.GetToFile(ctx, url, destPath); err != nil {
		os.Remove(destPath)
		return "", err
	}
	return destPath, nil
}
