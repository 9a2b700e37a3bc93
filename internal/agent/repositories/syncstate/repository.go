// Package syncstate persists the last-run state of each scheduled source.
package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/contexter/internal/agent/models"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/dbx"
)

type Repository interface {
	Save(ctx context.Context, st models.SyncState) error
	Get(ctx context.Context, source string) (models.SyncState, error)
	List(ctx context.Context) ([]models.SyncState, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, st models.SyncState) error {
	var lastRun any
	if !st.LastRunAt.IsZero() {
		lastRun = st.LastRunAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (source, last_run_at, last_status, last_error, last_failed_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_status = excluded.last_status,
			last_error = excluded.last_error,
			last_failed_id = excluded.last_failed_id`,
		st.Source, lastRun, st.LastStatus, st.LastError, st.LastFailedID)
	if err != nil {
		return fmt.Errorf("failed to save sync state[%s]: %w", st.Source, err)
	}
	return nil
}

// Get returns common.ErrorNotFound for a source that never synced.
func (r *SQLiteRepository) Get(ctx context.Context, source string) (models.SyncState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT source, last_run_at, last_status, last_error, last_failed_id
		FROM sync_state WHERE source = ?`, source)
	st, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncState{}, common.ErrorNotFound
	}
	if err != nil {
		return models.SyncState{}, fmt.Errorf("failed to get sync state[%s]: %w", source, err)
	}
	return st, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.SyncState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source, last_run_at, last_status, last_error, last_failed_id
		FROM sync_state ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync state: %w", err)
	}
	defer rows.Close()

	var out []models.SyncState
	for rows.Next() {
		st, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (models.SyncState, error) {
	var st models.SyncState
	var lastRun sql.NullTime
	if err := s.Scan(&st.Source, &lastRun, &st.LastStatus, &st.LastError, &st.LastFailedID); err != nil {
		return models.SyncState{}, err
	}
	if lastRun.Valid {
		st.LastRunAt = lastRun.Time
	}
	return st, nil
}
