// Package scheduler runs each source's sync on a fixed interval and keeps
// its last-run state.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/contexter/internal/agent/models"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/logging"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SyncFunc performs one sync of a source.
type SyncFunc func(ctx context.Context) error

// Service drives one source. The first sync runs as soon as the service
// starts; every following one is scheduled one interval after the previous
// sync finished. A failing sync never stops the schedule.
type Service struct {
	name     string
	interval time.Duration
	sync     SyncFunc
	log      logging.Logger
	now      func() time.Time
	onState  func(models.SyncState)

	// syncMu serializes syncs of this source.
	syncMu sync.Mutex

	mu           sync.Mutex
	running      bool
	startCtx     context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	nextRun      time.Time
	lastRun      time.Time
	lastStatus   string
	lastError    string
	lastFailedID string
}

type Option func(*Service)

func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithStateHook registers fn to receive the state after every sync.
func WithStateHook(fn func(models.SyncState)) Option { return func(s *Service) { s.onState = fn } }

// WithInitialState seeds the last-run fields, e.g. from the local store.
func WithInitialState(st models.SyncState) Option {
	return func(s *Service) {
		s.lastRun = st.LastRunAt
		s.lastStatus = st.LastStatus
		s.lastError = st.LastError
		s.lastFailedID = st.LastFailedID
	}
}

func New(name string, interval time.Duration, fn SyncFunc, opts ...Option) *Service {
	s := &Service{
		name:     name,
		interval: interval,
		sync:     fn,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("source", name)
	return s
}

func (s *Service) Name() string { return s.name }

// Start begins the schedule. Starting a running service is a no-op.
// Syncs run under ctx; Stop does not cancel ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if s.interval <= 0 {
		s.log.Warn(ctx, "not starting: interval must be positive", "interval", s.interval)
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.startCtx = ctx
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = s.now()

	go s.loop(loopCtx, ctx, s.done)
	s.log.Info(ctx, "scheduler started", "interval", s.interval)
}

// Stop cancels the pending tick. A sync already in progress runs to
// completion in the background.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	s.nextRun = time.Time{}
	s.log.Info(context.Background(), "scheduler stopped")
}

// Restart stops the service and starts it again with the context of the
// last Start.
func (s *Service) Restart() {
	s.mu.Lock()
	ctx := s.startCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.Stop()
	s.Start(ctx)
}

// Wait blocks until the loop of the last Start has exited.
func (s *Service) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow syncs immediately, outside the schedule, and returns the result.
// The next scheduled tick is not moved.
func (s *Service) RunNow(ctx context.Context) error {
	return s.runOnce(ctx)
}

// NextRunTime returns when the next scheduled sync starts, or the zero
// time when stopped.
func (s *Service) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// TimeUntilNextRun returns the wait until the next sync, zero if it is due
// or the service is stopped.
func (s *Service) TimeUntilNextRun() time.Duration {
	next := s.NextRunTime()
	if next.IsZero() {
		return 0
	}
	return max(next.Sub(s.now()), 0)
}

// LastSyncStatus is "success", "error", or "" before the first sync.
func (s *Service) LastSyncStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// LastFailedSyncID identifies the most recent failed sync.
func (s *Service) LastFailedSyncID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailedID
}

func (s *Service) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// State returns a snapshot for display and persistence.
func (s *Service) State() models.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() models.SyncState {
	return models.SyncState{
		Source:       s.name,
		LastRunAt:    s.lastRun,
		LastStatus:   s.lastStatus,
		LastError:    s.lastError,
		LastFailedID: s.lastFailedID,
	}
}

func (s *Service) loop(loopCtx, syncCtx context.Context, done chan struct{}) {
	defer close(done)

	for {
		_ = s.runOnce(syncCtx)

		if loopCtx.Err() != nil {
			return
		}
		next := s.now().Add(s.interval)
		s.mu.Lock()
		if s.done == done {
			s.nextRun = next
		}
		s.mu.Unlock()

		t := time.NewTimer(s.interval)
		select {
		case <-loopCtx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// runOnce performs one sync, converting panics to errors and recording the
// outcome. It never propagates a panic.
func (s *Service) runOnce(ctx context.Context) (err error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	id := uuid.NewString()
	log := s.log.With("sync_id", id)
	started := s.now()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync panicked: %v", p)
			log.Error(ctx, "sync panicked", "panic", p, "stack", string(debug.Stack()))
		}
		s.finish(ctx, log, id, started, err)
	}()

	log.Info(ctx, "syncing")
	return s.sync(ctx)
}

func (s *Service) finish(ctx context.Context, log logging.Logger, id string, started time.Time, err error) {
	took := s.now().Sub(started)

	s.mu.Lock()
	s.lastRun = started
	if err != nil {
		s.lastStatus = StatusError
		s.lastError = err.Error()
		s.lastFailedID = id
	} else {
		s.lastStatus = StatusSuccess
		s.lastError = ""
	}
	st := s.stateLocked()
	s.mu.Unlock()

	switch {
	case err == nil:
		log.Info(ctx, "sync finished", "took", took)
	case common.KindOf(err) == common.KindConfig:
		log.Warn(ctx, "sync skipped", "reason", err)
	default:
		log.Error(ctx, "sync failed", "error", err, "kind", common.KindOf(err), "took", took)
	}

	if s.onState != nil {
		s.onState(st)
	}
}
