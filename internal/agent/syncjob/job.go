// Package syncjob runs one scheduled sync of a kind: collect what changed
// since the checkpoint, encrypt, upload, then advance the checkpoint.
package syncjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/sources"
	"github.com/dmitrijs2005/contexter/internal/agent/transform"
	"github.com/dmitrijs2005/contexter/internal/agent/upload"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/cryptox"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/models"
)

// DefaultWindow is how far back the first sync of a kind looks.
const DefaultWindow = 24 * time.Hour

// State persists checkpoints and holds the encryption secret.
type State interface {
	Checkpoint(ctx context.Context, kind string) (time.Time, bool, error)
	SetCheckpoint(ctx context.Context, kind string, t time.Time) error
	Keys(ctx context.Context) (*cryptox.Keys, error)
}

// Uploader sends transformed records to the server.
type Uploader interface {
	Upload(ctx context.Context, kind kinds.Kind, items []models.Record, syncTime time.Time) (upload.Result, error)
}

type Job struct {
	kind      kinds.Kind
	collector sources.Collector
	fetchOpts sources.FetchOptions
	state     State
	uploader  Uploader
	window    time.Duration
	log       logging.Logger
	now       func() time.Time
}

type Option func(*Job)

func WithFetchOptions(o sources.FetchOptions) Option { return func(j *Job) { j.fetchOpts = o } }

// WithWindow sets the look-back of a kind without checkpoint.
func WithWindow(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.window = d
		}
	}
}

func WithLogger(l logging.Logger) Option { return func(j *Job) { j.log = l } }

func WithClock(now func() time.Time) Option { return func(j *Job) { j.now = now } }

func New(kind kinds.Kind, c sources.Collector, st State, up Uploader, opts ...Option) *Job {
	j := &Job{
		kind:      kind,
		collector: c,
		state:     st,
		uploader:  up,
		window:    DefaultWindow,
		log:       logging.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	j.log = j.log.With("kind", kind.Name)
	return j
}

// Run performs one sync. The checkpoint is written only after every
// record was accepted by the server.
func (j *Job) Run(ctx context.Context) error {
	syncTime := j.now().UTC()

	since, resumed, err := j.state.Checkpoint(ctx, j.kind.Name)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if !resumed {
		since = syncTime.Add(-j.window)
	}

	recs, err := j.collector.Fetch(ctx, since, j.fetchOpts)
	if err != nil {
		return fmt.Errorf("collect %s: %w", j.kind.Name, err)
	}
	if len(recs) == 0 {
		j.log.Debug(ctx, "nothing to sync", "since", since)
		return nil
	}

	if _, err := j.send(ctx, recs, syncTime); err != nil {
		return err
	}

	next := syncTime
	if latest, ok := latestTime(recs, j.kind.TimeField); ok {
		next = latest
	}
	if resumed && next.Before(since) {
		next = since
	}
	if err := j.state.SetCheckpoint(ctx, j.kind.Name, next); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	j.log.Info(ctx, "sync complete", "records", len(recs), "checkpoint", next)
	return nil
}

// SendBatch encrypts and uploads one backfill batch. It does not touch the
// checkpoint.
func (j *Job) SendBatch(ctx context.Context, batch []models.Record) error {
	_, err := j.send(ctx, batch, j.now().UTC())
	return err
}

func (j *Job) send(ctx context.Context, recs []models.Record, syncTime time.Time) (upload.Result, error) {
	keys, err := j.state.Keys(ctx)
	if errors.Is(err, cryptox.ErrNoKey) {
		return upload.Result{}, fmt.Errorf("%s: %w", j.kind.Name, common.ErrNoEncryptionKey)
	}
	if err != nil {
		return upload.Result{}, fmt.Errorf("load keys: %w", err)
	}
	defer keys.Wipe()

	out, err := transform.Transform(recs, j.kind.Fields, keys)
	if err != nil {
		return upload.Result{}, fmt.Errorf("transform %s: %w", j.kind.Name, err)
	}
	return j.uploader.Upload(ctx, j.kind, out, syncTime)
}

func latestTime(recs []models.Record, field string) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)
	for _, r := range recs {
		t, ok := sources.RecordTime(r, field)
		if ok && (!found || t.After(latest)) {
			latest, found = t, true
		}
	}
	return latest, found
}
