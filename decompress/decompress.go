// Package decompress implements the Decompression Pipeline from spec
// §4.4: given a compression tag and an input file, produces a
// decompressed byte stream, deleting temporary files on every exit
// path.
package decompress

import (
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrUnsupportedCompression is returned for any tag outside
// {none, xz, bzip2, gzip, zstd}.
var ErrUnsupportedCompression = errors.New("decompress: unsupported compression")

// ErrDecompressionFailed is returned when the underlying decoder
// cannot process the input, or when the decompressed size exceeds the
// limit given to Open.
var ErrDecompressionFailed = errors.New("decompress: decompression failed")

// limitSlack is added to the advertised NarSize before the ceiling in
// Open rejects an archive as oversized; upstream narinfo sizes are
// exact but framing overhead varies slightly by compression tag.
const limitSlack = 4096

// Result is a decompressed byte stream and the function to release
// its resources, always safe to call more than once.
type Result struct {
	Reader io.Reader
	Close  func() error
}

// Open decompresses srcPath (compressed with the given tag) and
// returns a reader over its contents. limit bounds the decompressed
// size: a stream exceeding limit+slack yields ErrDecompressionFailed
// rather than continuing to inflate without bound, per the disk-space
// hardening in SPEC_FULL.md §12. srcPath is removed once no longer
// needed, on every exit path.
func Open(tag, srcPath string, limit int64) (*Result, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("decompress: failed to open %s: %w", srcPath, err)
	}

	cleanup := func() error {
		closeErr := f.Close()
		removeErr := os.Remove(srcPath)
		if closeErr != nil {
			return closeErr
		}
		return removeErr
	}

	if tag == "" {
		tag = "none"
	}

	var inner io.Reader
	switch tag {
	case "none":
		return &Result{Reader: &limitedReader{r: f, remaining: limit + limitSlack}, Close: func() error {
			return cleanup()
		}}, nil
	case "xz":
		inner, err = xz.NewReader(f)
	case "bzip2":
		inner = bzip2.NewReader(f)
	case "gzip":
		inner, err = gzip.NewReader(f)
	case "zstd":
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(f)
		if err == nil {
			inner = dec.IOReadCloser()
		}
	default:
		cleanup()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, tag)
	}
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}

	limited := &limitedReader{r: inner, remaining: limit + limitSlack}

	return &Result{
		Reader: limited,
		Close: func() error {
			if c, ok := inner.(io.Closer); ok {
				c.Close()
			}
			return cleanup()
		},
	}, nil
}

// limitedReader wraps a decompressed stream and reports
// ErrDecompressionFailed instead of silently truncating once more
// than remaining bytes have been produced.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		var probe [1]byte
		if n, err := l.r.Read(probe[:]); n == 0 {
			return 0, err
		}
		return 0, fmt.Errorf("%w: decompressed size exceeds advertised NarSize", ErrDecompressionFailed)
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
