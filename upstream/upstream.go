// Package upstream implements the Upstream Client from spec §4.2: a
// stateless HTTP GET wrapper for upstream cache URLs, with a shared
// user-agent and a total request timeout. The order in which upstreams
// are tried is decided by the caller (package fetch).
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	userAgent      = "nixcached/1.0 (+pull-through binary cache)"
	requestTimeout = 120 * time.Second
)

// ErrNetwork reports a transport-level failure (DNS, connection
// refused, connection reset, etc).
var ErrNetwork = errors.New("upstream: network error")

// ErrTimeout reports that the request exceeded the total timeout.
var ErrTimeout = errors.New("upstream: timeout")

// ErrNotFound reports a 404 response, which the Pull-Through Fetcher
// treats as a soft failure: this upstream simply doesn't have it.
var ErrNotFound = errors.New("upstream: not found")

// StatusError reports any other non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: unexpected status %d", e.Code)
}

// Client issues single GETs against upstream cache URLs.
type Client struct {
	httpClient *http.Client
}

// New constructs a Client. The HTTP transport is wrapped with
// otelhttp so upstream fetches are traced the same way as every other
// outbound call in this server.
func New() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return &StatusError{Code: resp.StatusCode}
}

// Base joins an upstream base URL and a path, stripping exactly one
// trailing slash from the base per spec §4.5 step 1.
func Base(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// GetBytes performs a GET against url and returns the full response
// body in memory, per the "in-memory" mode of spec §4.2. Used for
// narinfo, which is small.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	return body, nil
}

// GetToFile performs a GET against url and streams the response body
// to destPath, per the "to file" mode of spec §4.2. Used for
// archives, which may be large. On any failure destPath is removed.
func (c *Client) GetToFile(ctx context.Context, url, destPath string) (size int64, err error) {
	defer func() {
		if err != nil {
			os.Remove(destPath)
		}
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("upstream: failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		io.Copy(io.Discard, resp.Body)
		return 0, err
	}

	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("upstream: failed to create destination file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		os.Remove(destPath)
		return 0, classifyError(err)
	}
	return n, nil
}
