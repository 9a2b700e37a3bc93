package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/dbx"
	"github.com/dmitrijs2005/contexter/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const upsertColumns = 6

func (r *PostgresRepository) Upsert(ctx context.Context, rows []models.Record) (inserted, updated int, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*upsertColumns)
	for i, row := range rows {
		n := i * upsertColumns
		values = append(values, fmt.Sprintf("($%d, $%d, $%d::jsonb, $%d::jsonb, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		args = append(args, row.Kind, row.NaturalID, string(row.Payload), string(row.Indexes), row.DeviceID, row.SyncTime)
	}

	query := `INSERT INTO records (kind, natural_id, payload, indexes, device_id, sync_time)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (kind, natural_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			indexes = EXCLUDED.indexes,
			device_id = EXCLUDED.device_id,
			sync_time = EXCLUDED.sync_time,
			updated_at = now()
		RETURNING (xmax = 0) AS inserted`

	res, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("db error: %w", err)
	}
	defer res.Close()

	for res.Next() {
		var ins bool
		if err := res.Scan(&ins); err != nil {
			return 0, 0, fmt.Errorf("scan upsert result: %w", err)
		}
		if ins {
			inserted++
		} else {
			updated++
		}
	}
	if err := res.Err(); err != nil {
		return 0, 0, fmt.Errorf("db error: %w", err)
	}
	return inserted, updated, nil
}

func (q Query) where() (string, []any) {
	conds := []string{"kind = $1"}
	args := []any{q.Kind}

	if q.IndexField != "" {
		args = append(args, q.IndexField, q.IndexValue)
		if q.IndexArray {
			conds = append(conds, fmt.Sprintf("indexes @> jsonb_build_object($%d::text, jsonb_build_array($%d::text))", len(args)-1, len(args)))
		} else {
			conds = append(conds, fmt.Sprintf("indexes @> jsonb_build_object($%d::text, $%d::text)", len(args)-1, len(args)))
		}
	}
	if q.UpdatedSince != nil {
		args = append(args, *q.UpdatedSince)
		conds = append(conds, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of matching rows, most recently written first, and
// the total number of matches.
func (r *PostgresRepository) List(ctx context.Context, q Query) ([]models.Record, int, error) {
	where, args := q.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	if total == 0 {
		return []models.Record{}, 0, nil
	}

	args = append(args, q.Limit, q.Offset)
	query := `SELECT kind, natural_id, payload, indexes, device_id, sync_time, created_at, updated_at
		FROM records` + where + fmt.Sprintf(`
		ORDER BY updated_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	return out, total, nil
}

func (r *PostgresRepository) Get(ctx context.Context, kind, naturalID string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT kind, natural_id, payload, indexes, device_id, sync_time, created_at, updated_at
		FROM records WHERE kind = $1 AND natural_id = $2`, kind, naturalID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return rec, err
}

func (r *PostgresRepository) DeleteSyncedBefore(ctx context.Context, kind string, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE kind = $1 AND sync_time < $2`, kind, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		rec              models.Record
		payload, indexes []byte
	)
	err := s.Scan(&rec.Kind, &rec.NaturalID, &payload, &indexes, &rec.DeviceID, &rec.SyncTime, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Payload = payload
	rec.Indexes = indexes
	return &rec, nil
}
