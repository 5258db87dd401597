package decompress

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestOpenNone(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plain.nar", []byte("nar-bytes"))

	res, err := Open("none", path, int64(len("nar-bytes")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(got) != "nar-bytes" {
		t.Fatalf("expected %q, got %q", "nar-bytes", got)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected source file to be removed after close")
	}
}

func TestOpenGzip(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("nar-bytes"))
	gw.Close()

	path := writeFile(t, dir, "compressed.nar.gz", buf.Bytes())

	res, err := Open("gzip", path, int64(len("nar-bytes")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Close()

	got, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(got) != "nar-bytes" {
		t.Fatalf("expected %q, got %q", "nar-bytes", got)
	}
}

func TestOpenUnsupportedCompression(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "weird.nar.lz4", []byte("nar-bytes"))

	_, err := Open("lz4", path, 9)
	if !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatalf("expected ErrUnsupportedCompression, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected source file to be removed on unsupported tag")
	}
}

func TestOpenGzipMalformedInput(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.nar.gz", []byte("not actually gzip"))

	_, err := Open("gzip", path, 100)
	if !errors.Is(err, ErrDecompressionFailed) {
		t.Fatalf("expected ErrDecompressionFailed, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected source file to be removed on decode failure")
	}
}

func TestOpenEnforcesSizeCeiling(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write(bytes.Repeat([]byte("x"), 10000))
	gw.Close()

	path := writeFile(t, dir, "oversized.nar.gz", buf.Bytes())

	res, err := Open("gzip", path, 10)
	if err != nil {
		t.Fatalf("unexpected error opening: %v", err)
	}
	defer res.Close()

	_, err = io.ReadAll(res.Reader)
	if !errors.Is(err, ErrDecompressionFailed) {
		t.Fatalf("expected ErrDecompressionFailed once size ceiling is exceeded, got %v", err)
	}
}
