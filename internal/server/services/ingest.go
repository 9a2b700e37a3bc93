// Package services contains server-side business logic: storing uploaded
// records, reading them back, and managing devices and access tokens.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/dbx"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/metrics"
	"github.com/dmitrijs2005/contexter/internal/server/models"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/records"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contexter/internal/server/storage"
	"github.com/go-playground/validator/v10"
)

// StorageKeyField replaces an offloaded binary field inside a list element.
// A top-level binary field f is replaced by fStorageKey.
const StorageKeyField = "storageKey"

// Counts is the outcome of one upload request.
type Counts struct {
	Inserted int
	Updated  int
	Skipped  int
	Rejected []common.RejectedItem
}

// IngestService validates uploaded items and upserts them by natural id.
type IngestService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	attachments storage.Store
	validate    *validator.Validate
	batchSize   int
	logger      logging.Logger
}

// NewIngestService builds the service. attachments may be nil, in which
// case binary fields stay inline in the stored payload.
func NewIngestService(db *sql.DB, m repomanager.RepositoryManager, attachments storage.Store, logger logging.Logger) *IngestService {
	return &IngestService{
		db:          db,
		repomanager: m,
		attachments: attachments,
		validate:    validator.New(),
		batchSize:   common.UpsertBatchSize,
		logger:      logger,
	}
}

type preparedItem struct {
	// pos is the item's position in the upload.
	pos     int
	id      string
	fields  map[string]any
	indexes map[string]any
}

// Upsert stores the valid items of one upload. Invalid items are reported
// in Counts.Rejected with their position in items. When the same natural id
// appears more than once, the last occurrence is stored and the others are
// counted as skipped. All sub-batches run in one transaction; a sub-batch
// the database refuses is retried row by row and the rows that still fail
// are rejected while the rest are kept.
func (s *IngestService) Upsert(ctx context.Context, kind kinds.Kind, items []json.RawMessage, syncTime time.Time, deviceID string) (*Counts, error) {
	started := time.Now()
	metrics.ItemsReceived.WithLabelValues(kind.Name).Add(float64(len(items)))

	counts := &Counts{}
	var order []string
	byID := make(map[string]preparedItem, len(items))

	for i, raw := range items {
		p, err := s.prepare(kind, raw)
		if err != nil {
			counts.Rejected = append(counts.Rejected, common.RejectedItem{Index: i, Error: err.Error()})
			continue
		}
		p.pos = i
		if _, dup := byID[p.id]; dup {
			counts.Skipped++
		} else {
			order = append(order, p.id)
		}
		byID[p.id] = p
	}

	rows := make([]models.Record, 0, len(order))
	positions := make([]int, 0, len(order))
	for _, id := range order {
		p := byID[id]
		positions = append(positions, p.pos)
		if err := s.offloadBinaries(ctx, kind, p); err != nil {
			return nil, err
		}
		payload, err := json.Marshal(p.fields)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", id, err)
		}
		indexes, err := json.Marshal(p.indexes)
		if err != nil {
			return nil, fmt.Errorf("marshal indexes of %s: %w", id, err)
		}
		rows = append(rows, models.Record{
			Kind:      kind.Name,
			NaturalID: id,
			Payload:   payload,
			Indexes:   indexes,
			DeviceID:  deviceID,
			SyncTime:  syncTime,
		})
	}

	if len(rows) > 0 {
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := s.repomanager.Records(tx)
			err := dbx.Chunks(rows, s.batchSize, func(offset int, chunk []models.Record) error {
				err := s.upsertChunk(ctx, tx, repo, kind, chunk, positions[offset:offset+len(chunk)], counts)
				if err != nil {
					return fmt.Errorf("upsert rows %d-%d: %w", offset, offset+len(chunk)-1, err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			slices.SortFunc(counts.Rejected, func(a, b common.RejectedItem) int { return a.Index - b.Index })

			return s.repomanager.Activity(tx).Log(ctx, &models.Activity{
				Direction: models.DirectionWrite,
				Kind:      kind.Name,
				Description: fmt.Sprintf("inserted %d, updated %d, rejected %d, skipped %d",
					counts.Inserted, counts.Updated, len(counts.Rejected), counts.Skipped),
				Count: counts.Inserted + counts.Updated,
				Actor: deviceID,
			})
		})
		if err != nil {
			s.logger.Error(ctx, "upsert failed", "kind", kind.Name, "device", deviceID, "items", len(items), "error", err)
			return nil, err
		}
	}

	metrics.ItemsWritten.WithLabelValues(kind.Name, "inserted").Add(float64(counts.Inserted))
	metrics.ItemsWritten.WithLabelValues(kind.Name, "updated").Add(float64(counts.Updated))
	metrics.ItemsWritten.WithLabelValues(kind.Name, "rejected").Add(float64(len(counts.Rejected)))
	metrics.ItemsWritten.WithLabelValues(kind.Name, "skipped").Add(float64(counts.Skipped))
	metrics.UpsertDuration.WithLabelValues(kind.Name).Observe(time.Since(started).Seconds())

	s.logger.Info(ctx, "upload stored", "kind", kind.Name, "device", deviceID,
		"inserted", counts.Inserted, "updated", counts.Updated,
		"rejected", len(counts.Rejected), "skipped", counts.Skipped)
	return counts, nil
}

// upsertChunk writes chunk under a savepoint. When the statement fails it
// writes the rows one at a time and rejects those the database refuses.
// Only errors that leave tx unusable are returned.
func (s *IngestService) upsertChunk(ctx context.Context, tx dbx.DBTX, repo records.Repository, kind kinds.Kind,
	chunk []models.Record, positions []int, counts *Counts) error {
	var ins, upd int
	upsert := func(rows []models.Record) func() error {
		return func() error {
			var err error
			ins, upd, err = repo.Upsert(ctx, rows)
			return err
		}
	}

	err := dbx.Savepoint(ctx, tx, "upsert_batch", upsert(chunk))
	if err == nil {
		counts.Inserted += ins
		counts.Updated += upd
		return nil
	}
	if errors.Is(err, dbx.ErrTxAborted) || ctx.Err() != nil {
		return err
	}
	s.logger.Warn(ctx, "batch upsert failed, retrying rows one by one", "kind", kind.Name, "rows", len(chunk), "error", err)

	for j := range chunk {
		err := dbx.Savepoint(ctx, tx, "upsert_row", upsert(chunk[j:j+1]))
		switch {
		case err == nil:
			counts.Inserted += ins
			counts.Updated += upd
		case errors.Is(err, dbx.ErrTxAborted) || ctx.Err() != nil:
			return err
		default:
			s.logger.Warn(ctx, "row rejected by database", "kind", kind.Name, "id", chunk[j].NaturalID, "error", err)
			counts.Rejected = append(counts.Rejected, common.RejectedItem{Index: positions[j], Error: "store failed: " + err.Error()})
		}
	}
	return nil
}

// prepare validates one item against the kind's schema and splits its
// index fields from the payload.
func (s *IngestService) prepare(kind kinds.Kind, raw json.RawMessage) (preparedItem, error) {
	typed := kind.New()
	if err := json.Unmarshal(raw, typed); err != nil {
		return preparedItem{}, fmt.Errorf("invalid item: %v", err)
	}
	if err := s.validate.Struct(typed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return preparedItem{}, fmt.Errorf("field %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return preparedItem{}, err
	}

	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return preparedItem{}, errors.New("invalid item: not an object")
	}

	id := naturalID(fields[kind.IDField])
	if id == "" {
		return preparedItem{}, fmt.Errorf("missing %s", kind.IDField)
	}

	indexes := make(map[string]any)
	scalar, array := kind.IndexFields()
	for _, f := range scalar {
		v, ok := fields[f]
		if !ok {
			continue
		}
		delete(fields, f)
		if str, ok := v.(string); ok && str != "" {
			indexes[f] = str
		}
	}
	for _, f := range array {
		v, ok := fields[f]
		if !ok {
			continue
		}
		delete(fields, f)
		list, _ := v.([]any)
		tokens := make([]string, 0, len(list))
		for _, e := range list {
			if str, ok := e.(string); ok && str != "" {
				tokens = append(tokens, str)
			}
		}
		if len(tokens) > 0 {
			indexes[f] = tokens
		}
	}

	return preparedItem{id: id, fields: fields, indexes: indexes}, nil
}

// offloadBinaries moves non-empty binary fields into the attachment store
// and leaves the object key in their place.
func (s *IngestService) offloadBinaries(ctx context.Context, kind kinds.Kind, p preparedItem) error {
	if s.attachments == nil {
		return nil
	}
	for _, path := range kind.Fields.BinaryFields {
		list, field, err := kinds.SplitBinaryPath(path)
		if err != nil {
			return err
		}
		if list == "" {
			if err := s.offload(ctx, p.fields, field, field+"StorageKey", storage.FieldKey(kind.Name, p.id, field)); err != nil {
				return err
			}
			continue
		}
		elems, _ := p.fields[list].([]any)
		for i, e := range elems {
			obj, ok := e.(map[string]any)
			if !ok {
				continue
			}
			attID := naturalID(obj["id"])
			if attID == "" {
				attID = strconv.Itoa(i)
			}
			if err := s.offload(ctx, obj, field, StorageKeyField, storage.AttachmentKey(p.id, attID)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *IngestService) offload(ctx context.Context, obj map[string]any, field, keyField, key string) error {
	v, _ := obj[field].(string)
	if v == "" {
		return nil
	}
	if err := s.attachments.Put(ctx, key, []byte(v)); err != nil {
		return fmt.Errorf("store attachment: %w", err)
	}
	delete(obj, field)
	obj[keyField] = key
	return nil
}

func naturalID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return ""
}
