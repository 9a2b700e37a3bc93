// Package sqlitesrc reads messages from on-disk SQLite stores (the
// Messages chat.db and the WhatsApp ChatStorage database). It serves both
// the scheduled sync, as a sources.Collector, and backfill, as a
// backfill.Source with composite cursor pagination.
package sqlitesrc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/contexter/internal/agent/backfill"
	"github.com/dmitrijs2005/contexter/internal/agent/sources"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/models"
)

// appleEpoch is the zero of Core Data timestamps.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// dialect describes one database layout.
type dialect struct {
	name string
	// from is the SELECT ... FROM ... JOIN part, without WHERE.
	from string
	// ts is an integer expression of the row time in units of unit since
	// appleEpoch; id is the integer row id.
	ts   string
	id   string
	unit time.Duration
	// scan reads one row of from into a record and its cursor.
	scan func(s *DB, rows *sql.Rows) (backfill.Row, error)
	// enrich runs once per page, e.g. to attach child rows.
	enrich func(ctx context.Context, s *DB, rows []backfill.Row) error
}

func (d dialect) toDB(t time.Time) int64 { return int64(t.Sub(appleEpoch) / d.unit) }

func (d dialect) fromDB(v int64) time.Time { return appleEpoch.Add(time.Duration(v) * d.unit).UTC() }

// DB is an open source database.
type DB struct {
	db   *sql.DB
	d    dialect
	opts sources.FetchOptions
	log  logging.Logger
}

func open(ctx context.Context, path string, d dialect, opts sources.FetchOptions, log logging.Logger) (*DB, error) {
	if log == nil {
		log = logging.Nop()
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	return &DB{db: db, d: d, opts: opts, log: log.With("source", d.name)}, nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) where(w backfill.Window, after *backfill.Cursor) (string, []any) {
	conds := []string{s.d.ts + " >= ?"}
	args := []any{s.d.toDB(w.Since)}
	if !w.Until.IsZero() {
		conds = append(conds, s.d.ts+" < ?")
		args = append(args, s.d.toDB(w.Until))
	}
	if after != nil {
		ts := s.d.toDB(after.Timestamp)
		conds = append(conds, fmt.Sprintf("(%s < ? OR (%s = ? AND %s < ?))", s.d.ts, s.d.ts, s.d.id))
		args = append(args, ts, ts, after.ID)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Count returns the number of rows inside w.
func (s *DB) Count(ctx context.Context, w backfill.Window) (int, error) {
	where, args := s.where(w, nil)
	q := "SELECT COUNT(*) FROM (" + s.d.from + where + ")"
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.d.name, err)
	}
	return n, nil
}

// FetchPage returns up to limit rows of w strictly after the cursor,
// ordered by (time DESC, id DESC). limit 0 returns every row.
func (s *DB) FetchPage(ctx context.Context, w backfill.Window, after *backfill.Cursor, limit int) ([]backfill.Row, error) {
	where, args := s.where(w, after)
	q := s.d.from + where + fmt.Sprintf(" ORDER BY %s DESC, %s DESC", s.d.ts, s.d.id)
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.d.name, err)
	}
	defer rows.Close()

	var out []backfill.Row
	for rows.Next() {
		r, err := s.d.scan(s, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.d.name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.d.name, err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if s.d.enrich != nil && len(out) > 0 {
		if err := s.d.enrich(ctx, s, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Fetch returns every row since the given time, newest first.
func (s *DB) Fetch(ctx context.Context, since time.Time, opts sources.FetchOptions) ([]models.Record, error) {
	s.opts = opts
	rows, err := s.FetchPage(ctx, backfill.Window{Since: since}, nil, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out, nil
}

// Opener returns a function that opens the database at path for one run.
type Opener func(ctx context.Context, path string, opts sources.FetchOptions, log logging.Logger) (*DB, error)

// Collector opens the database for every Fetch and closes it afterwards.
type Collector struct {
	Path string
	Open Opener
	Log  logging.Logger
}

func (c Collector) Fetch(ctx context.Context, since time.Time, opts sources.FetchOptions) ([]models.Record, error) {
	db, err := c.Open(ctx, c.Path, opts, c.Log)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Fetch(ctx, since, opts)
}

// BackfillOpener adapts an Opener for the backfill engine.
func BackfillOpener(open Opener, path string, opts sources.FetchOptions, log logging.Logger) backfill.Opener {
	return func(ctx context.Context) (backfill.Source, error) {
		return open(ctx, path, opts, log)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toRecord[T any](v T) (models.Record, error) {
	recs, err := models.ToRecords([]T{v})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}
