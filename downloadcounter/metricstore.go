// Package downloadcounter records per-hash-part download counts,
// distinguishing paths served from the local store from paths served
// via a pull-through fetch, per day.
package downloadcounter

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/a-h/kv"
)

func New(store kv.Store) *Counter {
	return &Counter{
		store: store,
		now:   time.Now,
	}
}

type Counter struct {
	store kv.Store
	now   func() time.Time
}

func (m *Counter) buildCounterKey(source, hashPart string, date time.Time) string {
	encodedSource := url.PathEscape(source)
	encodedHashPart := url.PathEscape(hashPart)
	encodedDate := date.Format("2006-01-02")
	return path.Join("/downloadcounter", encodedSource, encodedHashPart, encodedDate)
}

func (m *Counter) buildCounterPrefix(source, hashPart string) string {
	encodedSource := url.PathEscape(source)
	encodedHashPart := url.PathEscape(hashPart)
	return path.Join("/downloadcounter", encodedSource, encodedHashPart) + "/"
}

// Increment records one download of hashPart via source ("local" or
// "upstream") on the current day.
func (m *Counter) Increment(ctx context.Context, source, hashPart string) (err error) {
	day := m.now().Truncate(24 * time.Hour)
	key := m.buildCounterKey(source, hashPart, day)
	// Every time we upsert a key with Put, the version number is incremented.
	return m.store.Put(ctx, key, -1, "")
}

func (m *Counter) Get(ctx context.Context, source, hashPart string) (count Counts, err error) {
	rows, err := m.store.GetPrefix(ctx, m.buildCounterPrefix(source, hashPart), 0, -1)
	if err != nil {
		return nil, err
	}

	counts := make([]Count, len(rows))
	for i, row := range rows {
		parts := strings.Split(row.Key, "/")
		if len(parts) != 5 {
			return counts, fmt.Errorf("invalid key format: %s", row.Key)
		}
		if counts[i].Date, err = time.Parse("2006-01-02", parts[4]); err != nil {
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
		counts[i].Count = row.Version
	}

	return counts, nil
}

type Counts []Count

func (c Counts) Total() (total int) {
	for _, count := range c {
		total += count.Count
	}
	return total
}

// Range returns the date range covered by the counts. It assumes the counts are sorted by date.
func (c Counts) Range() (from time.Time, to time.Time) {
	if len(c) == 0 {
		return time.Time{}, time.Time{}
	}
	return c[0].Date, c[len(c)-1].Date
}

// Values provides just the count values, including zeros for days with no counts.
func (c Counts) Values() (values []int) {
	from, to := c.Range()
	hours := to.Sub(from).Hours()
	days := int(hours / 24)
	values = make([]int, days+1)
	for _, count := range c {
		index := int(count.Date.Sub(from).Hours() / 24)
		values[index] = count.Count
	}
	return values
}

type Count struct {
	Date  time.Time
	Count int
}
