package backfill

import (
	"context"
	"time"

	"github.com/dmitrijs2005/contexter/internal/models"
)

// Cursor is a position in a source ordered by (Timestamp DESC, ID DESC).
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// After reports whether c sorts strictly after o in (Timestamp DESC, ID DESC)
// order, i.e. c is older, or equally old with a smaller id.
func (c Cursor) After(o Cursor) bool {
	if !c.Timestamp.Equal(o.Timestamp) {
		return c.Timestamp.Before(o.Timestamp)
	}
	return c.ID < o.ID
}

func (c Cursor) Equal(o Cursor) bool {
	return c.Timestamp.Equal(o.Timestamp) && c.ID == o.ID
}

// Window bounds a run. Since is inclusive, Until exclusive; a zero Until is
// unbounded.
type Window struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Since) {
		return false
	}
	return w.Until.IsZero() || t.Before(w.Until)
}

// Row is one source record with its cursor position.
type Row struct {
	Cursor Cursor
	Record models.Record
}

// Source is a newest-first data source without offset support.
//
// FetchPage returns rows inside w strictly after the given cursor (all rows
// when after is nil), ordered by (Timestamp DESC, ID DESC), at most limit
// of them. A limit of 0 means no limit.
type Source interface {
	Count(ctx context.Context, w Window) (int, error)
	FetchPage(ctx context.Context, w Window, after *Cursor, limit int) ([]Row, error)
	Close() error
}

// Opener acquires a Source for the duration of one run.
type Opener func(ctx context.Context) (Source, error)

// Paginator walks a Source page by page.
type Paginator struct {
	src   Source
	w     Window
	size  int
	after *Cursor
	done  bool
}

func NewPaginator(src Source, w Window, size int) *Paginator {
	return &Paginator{src: src, w: w, size: size}
}

// Next returns the next page, or nil once the source is exhausted.
// Rows a source repeats from before the cursor are dropped. After the first
// page one extra row is requested so a repeated cursor row cannot stall
// the walk; pages never exceed the configured size.
func (p *Paginator) Next(ctx context.Context) ([]Row, error) {
	if p.done {
		return nil, nil
	}

	limit := p.size
	if limit > 0 && p.after != nil {
		limit++
	}
	rows, err := p.src.FetchPage(ctx, p.w, p.after, limit)
	if err != nil {
		return nil, err
	}
	exhausted := limit <= 0 || len(rows) < limit

	page := rows[:0:0]
	for _, r := range rows {
		if p.after == nil || r.Cursor.After(*p.after) {
			page = append(page, r)
		}
	}
	if p.size > 0 && len(page) > p.size {
		page = page[:p.size]
		exhausted = false
	}
	if len(page) == 0 {
		p.done = true
		return nil, nil
	}
	p.done = exhausted

	last := page[len(page)-1].Cursor
	p.after = &last
	return page, nil
}

// CollectAll concatenates every page of the given size.
func CollectAll(ctx context.Context, src Source, w Window, size int) ([]Row, error) {
	p := NewPaginator(src, w, size)
	var out []Row
	for {
		page, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			return out, nil
		}
		out = append(out, page...)
	}
}
