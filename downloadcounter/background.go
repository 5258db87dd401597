package downloadcounter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/a-h/kv"

	"github.com/a-h/nixcache/metrics"
)

// Source values recorded against a DownloadEvent.
const (
	SourceLocal    = "local"
	SourceUpstream = "upstream"
)

type DownloadEvent struct {
	Source   string
	HashPart string
}

// NewBufferedCounter starts a background goroutine draining download
// events into the counter store, so handlers never block on a kv write
// to record a hit.
func NewBufferedCounter(ctx context.Context, log *slog.Logger, store kv.Store, metrics metrics.Metrics, bufferSize int) (counter chan DownloadEvent, shutdown func()) {
	counter = make(chan DownloadEvent, bufferSize)

	var wg sync.WaitGroup
	wg.Go(func() {
		c := New(store)
		for event := range counter {
			log.Debug("recording download", "source", event.Source, "hashPart", event.HashPart)
			if err := c.Increment(ctx, event.Source, event.HashPart); err != nil {
				log.Error("failed to record download", slog.String("source", event.Source), slog.String("hashPart", event.HashPart), slog.Any("error", err))
				metrics.IncrementDownloadCounterErrors(ctx, event.Source)
			}
		}
	})

	shutdown = func() {
		close(counter)
		wg.Wait()
	}

	return counter, shutdown
}
