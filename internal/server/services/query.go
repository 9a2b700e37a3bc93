package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/auth"
	"github.com/dmitrijs2005/contexter/internal/server/metrics"
	"github.com/dmitrijs2005/contexter/internal/server/models"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/records"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contexter/internal/server/storage"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

// ListParams selects one page of a kind. Filter names an index field and
// Value is the token to match.
type ListParams struct {
	Filter string
	Value  string
	Limit  int
	Offset int
}

type Page struct {
	Items  []map[string]any
	Total  int
	Limit  int
	Offset int
}

// QueryService serves the read API. Every call is checked against the
// caller's token scopes and data window.
type QueryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	attachments storage.Store
	logger      logging.Logger
	now         func() time.Time
}

func NewQueryService(db *sql.DB, m repomanager.RepositoryManager, attachments storage.Store, logger logging.Logger) *QueryService {
	return &QueryService{db: db, repomanager: m, attachments: attachments, logger: logger, now: time.Now}
}

// List returns the most recently written records of kind that match p.
func (s *QueryService) List(ctx context.Context, claims *auth.Claims, kind kinds.Kind, p ListParams) (*Page, error) {
	if !claims.Allows(kind.Name) {
		return nil, common.ErrorForbidden
	}
	if p.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", common.ErrorValidation)
	}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultListLimit
	case p.Limit > MaxListLimit:
		p.Limit = MaxListLimit
	}

	q := records.Query{
		Kind:         kind.Name,
		UpdatedSince: claims.Cutoff(s.now()),
		Limit:        p.Limit,
		Offset:       p.Offset,
	}
	if p.Filter != "" {
		scalar, array := kind.IndexFields()
		switch {
		case slices.Contains(scalar, p.Filter):
		case slices.Contains(array, p.Filter):
			q.IndexArray = true
		default:
			return nil, fmt.Errorf("%w: %s is not an index of %s", common.ErrorValidation, p.Filter, kind.Name)
		}
		if p.Value == "" {
			return nil, fmt.Errorf("%w: empty %s", common.ErrorValidation, p.Filter)
		}
		q.IndexField = p.Filter
		q.IndexValue = p.Value
	}

	rows, total, err := s.repomanager.Records(s.db).List(ctx, q)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		item, err := toItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	metrics.ItemsRead.WithLabelValues(kind.Name).Add(float64(len(items)))
	s.logRead(ctx, claims, kind.Name, len(items), fmt.Sprintf("list limit=%d offset=%d filter=%s", p.Limit, p.Offset, p.Filter))

	return &Page{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// AttachmentURL returns a presigned link to one stored message attachment.
func (s *QueryService) AttachmentURL(ctx context.Context, claims *auth.Claims, messageID, attachmentID string) (string, time.Time, error) {
	if !claims.Allows(kinds.Message) {
		return "", time.Time{}, common.ErrorForbidden
	}
	if s.attachments == nil {
		return "", time.Time{}, common.ErrorNotFound
	}

	rec, err := s.repomanager.Records(s.db).Get(ctx, kinds.Message, messageID)
	if err != nil {
		return "", time.Time{}, err
	}
	if cutoff := claims.Cutoff(s.now()); cutoff != nil && rec.UpdatedAt.Before(*cutoff) {
		return "", time.Time{}, common.ErrorNotFound
	}

	var msg struct {
		Attachments []map[string]any `json:"attachments"`
	}
	if err := json.Unmarshal(rec.Payload, &msg); err != nil {
		return "", time.Time{}, fmt.Errorf("decode %s: %w", messageID, err)
	}

	for _, a := range msg.Attachments {
		if id, _ := a["id"].(string); id != attachmentID {
			continue
		}
		key, _ := a[StorageKeyField].(string)
		if key == "" {
			return "", time.Time{}, common.ErrorNotFound
		}
		u, exp, err := s.attachments.PresignGet(ctx, key)
		if err != nil {
			return "", time.Time{}, err
		}
		s.logRead(ctx, claims, kinds.Message, 1, "attachment "+attachmentID)
		return u, exp, nil
	}
	return "", time.Time{}, common.ErrorNotFound
}

// FieldURL returns a presigned link to the offloaded top-level binary
// field of one record, such as the image of a screenshot.
func (s *QueryService) FieldURL(ctx context.Context, claims *auth.Claims, kind kinds.Kind, id, field string) (string, time.Time, error) {
	if !claims.Allows(kind.Name) {
		return "", time.Time{}, common.ErrorForbidden
	}
	if !slices.Contains(kind.Fields.BinaryFields, field) {
		return "", time.Time{}, fmt.Errorf("%w: %s has no binary field %q", common.ErrorValidation, kind.Name, field)
	}
	if s.attachments == nil {
		return "", time.Time{}, common.ErrorNotFound
	}

	rec, err := s.repomanager.Records(s.db).Get(ctx, kind.Name, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if cutoff := claims.Cutoff(s.now()); cutoff != nil && rec.UpdatedAt.Before(*cutoff) {
		return "", time.Time{}, common.ErrorNotFound
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode %s: %w", id, err)
	}
	key, _ := payload[field+"StorageKey"].(string)
	if key == "" {
		return "", time.Time{}, common.ErrorNotFound
	}
	u, exp, err := s.attachments.PresignGet(ctx, key)
	if err != nil {
		return "", time.Time{}, err
	}
	s.logRead(ctx, claims, kind.Name, 1, field+" of "+id)
	return u, exp, nil
}

func (s *QueryService) logRead(ctx context.Context, claims *auth.Claims, kind string, n int, desc string) {
	err := s.repomanager.Activity(s.db).Log(ctx, &models.Activity{
		Direction:   models.DirectionRead,
		Kind:        kind,
		Description: desc,
		Count:       n,
		Actor:       claims.ID,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(ctx, "failed to log read", "kind", kind, "error", err)
	}
}

// toItem rebuilds the uploaded shape of a record: payload with its index
// fields put back, plus server timestamps.
func toItem(r models.Record) (map[string]any, error) {
	item := make(map[string]any)
	if err := json.Unmarshal(r.Payload, &item); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", r.Kind, r.NaturalID, err)
	}
	if len(r.Indexes) > 0 {
		var idx map[string]any
		if err := json.Unmarshal(r.Indexes, &idx); err != nil {
			return nil, fmt.Errorf("decode indexes of %s/%s: %w", r.Kind, r.NaturalID, err)
		}
		for k, v := range idx {
			item[k] = v
		}
	}
	item["syncTime"] = r.SyncTime.UTC().Format(time.RFC3339Nano)
	item["updatedAt"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return item, nil
}
