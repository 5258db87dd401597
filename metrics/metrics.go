// Package metrics exposes the server's operational counters via
// OpenTelemetry's Prometheus exporter, in the same shape as the
// teacher's metrics package: a struct of pre-created instruments and a
// handler mounted at /metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/a-h/nixcache")

	if m.LocalHitsTotal, err = meter.Int64Counter("local_hits_total", metric.WithDescription("Total number of narinfo requests served from the local store")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create local_hits_total counter: %w", err)
	}
	if m.UpstreamHitsTotal, err = meter.Int64Counter("upstream_hits_total", metric.WithDescription("Total number of requests satisfied by a pull-through fetch from an upstream cache")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create upstream_hits_total counter: %w", err)
	}
	if m.MissesTotal, err = meter.Int64Counter("misses_total", metric.WithDescription("Total number of requests for which no local or upstream copy was found")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create misses_total counter: %w", err)
	}
	if m.FetchErrorsTotal, err = meter.Int64Counter("fetch_errors_total", metric.WithDescription("Total number of pull-through fetches that ended in an error other than a miss; upstream failures, including those after a narinfo was found, are counted as misses")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create fetch_errors_total counter: %w", err)
	}
	if m.FetchDurationSeconds, err = meter.Float64Histogram("fetch_duration_seconds", metric.WithDescription("Duration of pull-through fetches from an upstream cache")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create fetch_duration_seconds histogram: %w", err)
	}
	if m.DownloadedBytesTotal, err = meter.Int64Counter("downloaded_bytes_total", metric.WithDescription("Total NAR bytes streamed to clients")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create downloaded_bytes_total counter: %w", err)
	}
	if m.AccessLogErrorsTotal, err = meter.Int64Counter("access_log_errors_total", metric.WithDescription("Total number of access log processing errors")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create access_log_errors_total counter: %w", err)
	}
	if m.DownloadCounterErrorsTotal, err = meter.Int64Counter("download_counter_errors_total", metric.WithDescription("Total number of download counter processing errors")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create download_counter_errors_total counter: %w", err)
	}

	return m, nil
}

type Metrics struct {
	LocalHitsTotal             metric.Int64Counter
	UpstreamHitsTotal          metric.Int64Counter
	MissesTotal                metric.Int64Counter
	FetchErrorsTotal           metric.Int64Counter
	FetchDurationSeconds       metric.Float64Histogram
	DownloadedBytesTotal       metric.Int64Counter
	AccessLogErrorsTotal       metric.Int64Counter
	DownloadCounterErrorsTotal metric.Int64Counter
}

func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m Metrics) IncrementLocalHit(ctx context.Context) {
	if m.LocalHitsTotal == nil {
		return
	}
	m.LocalHitsTotal.Add(ctx, 1)
}

func (m Metrics) IncrementUpstreamHit(ctx context.Context, upstream string, fetchDuration time.Duration) {
	if m.UpstreamHitsTotal != nil {
		m.UpstreamHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("upstream", upstream)))
	}
	if m.FetchDurationSeconds != nil {
		m.FetchDurationSeconds.Record(ctx, fetchDuration.Seconds(), metric.WithAttributes(attribute.String("upstream", upstream)))
	}
}

func (m Metrics) IncrementMiss(ctx context.Context) {
	if m.MissesTotal == nil {
		return
	}
	m.MissesTotal.Add(ctx, 1)
}

func (m Metrics) IncrementFetchError(ctx context.Context, upstream string) {
	if m.FetchErrorsTotal == nil {
		return
	}
	m.FetchErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("upstream", upstream)))
}

func (m Metrics) IncrementDownloadMetrics(ctx context.Context, bytes int64) {
	if m.DownloadedBytesTotal == nil {
		return
	}
	m.DownloadedBytesTotal.Add(ctx, bytes)
}

func (m Metrics) IncrementAccessLogErrors(ctx context.Context) {
	if m.AccessLogErrorsTotal == nil {
		return
	}
	m.AccessLogErrorsTotal.Add(ctx, 1)
}

func (m Metrics) IncrementDownloadCounterErrors(ctx context.Context, source string) {
	if m.DownloadCounterErrorsTotal == nil {
		return
	}
	m.DownloadCounterErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
