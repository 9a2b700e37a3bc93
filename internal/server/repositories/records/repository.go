package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/contexter/internal/server/models"
)

// Query selects stored records of one kind.
type Query struct {
	Kind string
	// IndexField, when set, filters on equality with IndexValue. For array
	// index fields the value must be a member.
	IndexField string
	IndexValue string
	IndexArray bool
	// UpdatedSince hides rows last written before it.
	UpdatedSince *time.Time
	Limit        int
	Offset       int
}

type Repository interface {
	// Upsert writes rows in one statement, keyed by (kind, natural id).
	// Rows must not repeat a key.
	Upsert(ctx context.Context, rows []models.Record) (inserted, updated int, err error)
	List(ctx context.Context, q Query) ([]models.Record, int, error)
	Get(ctx context.Context, kind, naturalID string) (*models.Record, error)
	DeleteSyncedBefore(ctx context.Context, kind string, before time.Time) (int64, error)
}
