// Package retention deletes stored records and activity entries older than
// their configured retention, on a cron schedule.
package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/metrics"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/repomanager"
)

// ActivityTable labels activity log deletions in Result and metrics.
const ActivityTable = "activity_logs"

// Result maps a kind name (or ActivityTable) to the rows deleted. Disabled
// entries are absent.
type Result map[string]int64

type Job struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	cron         string
	kindHours    map[string]int
	logHours     int
	logger       logging.Logger
	now          func() time.Time
	retryBackoff time.Duration
}

// New validates cron and returns a job. Hours of zero disable cleanup for
// that kind or for the activity log.
func New(db *sql.DB, m repomanager.RepositoryManager, cron string, kindHours map[string]int, logHours int, logger logging.Logger) (*Job, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cron)
	}
	return &Job{
		db:           db,
		repomanager:  m,
		cron:         cron,
		kindHours:    kindHours,
		logHours:     logHours,
		logger:       logger,
		now:          time.Now,
		retryBackoff: 30 * time.Second,
	}, nil
}

// RunOnce performs one cleanup pass. A failing kind does not stop the
// others; their errors are joined.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	now := j.now().UTC()
	res := Result{}
	var errs []error

	names := make([]string, 0, len(j.kindHours))
	for k := range j.kindHours {
		names = append(names, k)
	}
	sort.Strings(names)

	repo := j.repomanager.Records(j.db)
	for _, kind := range names {
		hours := j.kindHours[kind]
		if hours <= 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(hours) * time.Hour)
		n, err := repo.DeleteSyncedBefore(ctx, kind, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		res[kind] = n
		metrics.RetentionDeleted.WithLabelValues(kind).Add(float64(n))
		j.logger.Info(ctx, "retention pass", "kind", kind, "deleted", n, "retention_hours", hours, "cutoff", cutoff)
	}

	if j.logHours > 0 {
		cutoff := now.Add(-time.Duration(j.logHours) * time.Hour)
		n, err := j.repomanager.Activity(j.db).DeleteOlderThan(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ActivityTable, err))
		} else {
			res[ActivityTable] = n
			metrics.RetentionDeleted.WithLabelValues(ActivityTable).Add(float64(n))
			j.logger.Info(ctx, "retention pass", "table", ActivityTable, "deleted", n, "retention_hours", j.logHours)
		}
	}

	return res, errors.Join(errs...)
}

// Run calls RunOnce at every tick of the cron expression until ctx is done.
func (j *Job) Run(ctx context.Context) {
	j.logger.Info(ctx, "retention scheduler started", "cron", j.cron)
	for {
		next, err := gronx.NextTickAfter(j.cron, j.now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			j.logger.Error(ctx, "retention next tick failed", "cron", j.cron, "error", err)
			wait = j.retryBackoff
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			j.logger.Info(ctx, "retention scheduler stopping")
			return
		case <-t.C:
		}

		if err == nil {
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error(ctx, "retention run failed", "error", err)
			}
		}
	}
}
