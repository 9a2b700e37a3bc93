// Package requestlogs persists the uploader's HTTP call history.
package requestlogs

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/models"
	"github.com/dmitrijs2005/contexter/internal/dbx"
)

type Repository interface {
	RecordRequest(ctx context.Context, l models.RequestLog) error
	Recent(ctx context.Context, limit int) ([]models.RequestLog, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) RecordRequest(ctx context.Context, l models.RequestLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO request_logs (ts, method, path, status, status_code, duration_ms, items, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Timestamp.UTC(), l.Method, l.Path, l.Status, l.StatusCode, l.Duration.Milliseconds(), l.Items, l.Error)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]models.RequestLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts, method, path, status, status_code, duration_ms, items, error
		FROM request_logs ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select request logs: %w", err)
	}
	defer rows.Close()

	var out []models.RequestLog
	for rows.Next() {
		var l models.RequestLog
		var ms int64
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Method, &l.Path, &l.Status, &l.StatusCode, &ms, &l.Items, &l.Error); err != nil {
			return nil, fmt.Errorf("failed to scan request log: %w", err)
		}
		l.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request logs: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than before.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM request_logs WHERE ts < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune request logs: %w", err)
	}
	return res.RowsAffected()
}
