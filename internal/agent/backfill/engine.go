// Package backfill uploads a bounded historical window of one source,
// streaming it page by page with a composite (timestamp, id) cursor.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/models"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhaseUploading Phase = "uploading"
)

// Progress is a snapshot of the current or last run.
// Current and Total count batches; MessageCount counts records.
type Progress struct {
	Status       Status `json:"status"`
	Phase        Phase  `json:"phase,omitempty"`
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	MessageCount int    `json:"messageCount"`
	Error        string `json:"error,omitempty"`
}

// BatchFunc transforms and uploads one batch of records.
type BatchFunc func(ctx context.Context, records []models.Record) error

// Cue signals activity to the user while a run is in progress.
// The returned func stops it.
type Cue func() (stop func())

type Engine struct {
	name      string
	open      Opener
	send      BatchFunc
	batchSize int
	log       logging.Logger
	now       func() time.Time
	cue       Cue
	onUpdate  func(Progress)

	running   atomic.Bool
	cancelled atomic.Bool

	mu       sync.RWMutex
	progress Progress
}

type Option func(*Engine)

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.log = l } }

func WithCue(c Cue) Option { return func(e *Engine) { e.cue = c } }

// WithProgressHook registers fn to receive every progress update.
func WithProgressHook(fn func(Progress)) Option { return func(e *Engine) { e.onUpdate = fn } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(name string, open Opener, send BatchFunc, opts ...Option) *Engine {
	e := &Engine{
		name:      name,
		open:      open,
		send:      send,
		batchSize: common.BackfillBatchSize,
		log:       logging.Nop(),
		now:       time.Now,
		cue:       func() func() { return func() {} },
		progress:  Progress{Status: StatusIdle},
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("source", name, "component", "backfill")
	return e
}

// Progress returns the current state.
func (e *Engine) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.progress
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Cancel asks a running backfill to stop before its next batch.
// The batch in flight completes first.
func (e *Engine) Cancel() {
	if e.running.Load() {
		e.cancelled.Store(true)
		e.log.Info(context.Background(), "cancelling backfill")
	}
}

func (e *Engine) set(fn func(p *Progress)) {
	e.mu.Lock()
	fn(&e.progress)
	p := e.progress
	e.mu.Unlock()
	if e.onUpdate != nil {
		e.onUpdate(p)
	}
}

// Run backfills the last days days. It blocks until the run ends and
// returns nil for completed and cancelled runs. Only one run per engine
// may be active; a second call returns common.ErrBackfillRunning.
func (e *Engine) Run(ctx context.Context, days int) (err error) {
	if days <= 0 {
		return fmt.Errorf("backfill days must be positive, got %d", days)
	}
	if !e.running.CompareAndSwap(false, true) {
		return common.ErrBackfillRunning
	}
	e.cancelled.Store(false)

	now := e.now()
	w := Window{Since: now.Add(-time.Duration(days) * 24 * time.Hour), Until: now}

	e.set(func(p *Progress) { *p = Progress{Status: StatusRunning, Phase: PhaseLoading} })
	e.log.Info(ctx, "starting backfill", "days", days, "since", w.Since)

	stop := e.cue()
	src, err := e.open(ctx)
	if err != nil {
		stop()
		e.running.Store(false)
		e.fail(ctx, fmt.Errorf("open source: %w", err))
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			e.log.Warn(ctx, "close source", "error", cerr)
		}
		stop()
		e.running.Store(false)
	}()

	total, err := src.Count(ctx, w)
	if err != nil {
		e.fail(ctx, fmt.Errorf("count: %w", err))
		return err
	}
	e.log.Info(ctx, "found records to backfill", "count", total)

	if total == 0 {
		e.set(func(p *Progress) { *p = Progress{Status: StatusCompleted} })
		return nil
	}

	batches := (total + e.batchSize - 1) / e.batchSize
	e.set(func(p *Progress) {
		*p = Progress{Status: StatusRunning, Phase: PhaseUploading, Total: batches, MessageCount: total}
	})

	pages := NewPaginator(src, w, e.batchSize)
	sent := 0
	for {
		if e.cancelled.Load() || ctx.Err() != nil {
			e.set(func(p *Progress) { p.Status = StatusCancelled })
			e.log.Info(ctx, "backfill cancelled", "sent", sent)
			return nil
		}

		rows, err := pages.Next(ctx)
		if err != nil {
			e.fail(ctx, fmt.Errorf("fetch page: %w", err))
			return err
		}
		if rows == nil {
			break
		}

		records := make([]models.Record, len(rows))
		for i, r := range rows {
			records[i] = r.Record
		}
		if err := e.send(ctx, records); err != nil {
			if errors.Is(err, context.Canceled) {
				e.set(func(p *Progress) { p.Status = StatusCancelled })
				return nil
			}
			e.fail(ctx, err)
			return err
		}

		sent += len(rows)
		e.set(func(p *Progress) {
			p.Current++
			if p.Current > p.Total {
				p.Total = p.Current
			}
		})
		cur := e.Progress()
		e.log.Info(ctx, "backfill progress", "batch", cur.Current, "batches", cur.Total, "records", sent, "of", total)
	}

	e.set(func(p *Progress) {
		p.Status = StatusCompleted
		p.MessageCount = sent
	})
	e.log.Info(ctx, "backfill completed", "records", sent)
	return nil
}

func (e *Engine) fail(ctx context.Context, err error) {
	e.log.Error(ctx, "backfill failed", "error", err)
	e.set(func(p *Progress) {
		p.Status = StatusError
		p.Error = err.Error()
	})
}
