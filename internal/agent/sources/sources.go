// Package sources defines what the sync pipeline needs from a collector.
// How records are produced (database scan, export file) is up to the
// implementation; records come back newest first with stable natural ids.
package sources

import (
	"context"
	"time"

	"github.com/dmitrijs2005/contexter/internal/models"
)

// FetchOptions are source-specific switches from the agent configuration.
type FetchOptions struct {
	IncludeAttachments bool
}

// Collector returns records changed since the given time, newest first.
type Collector interface {
	Fetch(ctx context.Context, since time.Time, opts FetchOptions) ([]models.Record, error)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(ctx context.Context, since time.Time, opts FetchOptions) ([]models.Record, error)

func (f CollectorFunc) Fetch(ctx context.Context, since time.Time, opts FetchOptions) ([]models.Record, error) {
	return f(ctx, since, opts)
}

// RecordTime reads a timestamp field holding an RFC 3339 string or a
// time.Time.
func RecordTime(r models.Record, field string) (time.Time, bool) {
	if field == "" {
		return time.Time{}, false
	}
	switch v := r[field].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}
