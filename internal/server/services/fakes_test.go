package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/dbx"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/models"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/accesstokens"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/activity"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/devices"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/records"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var nopLogger = logging.Nop()

type fakeRecordsRepo struct {
	mu        sync.Mutex
	rows      map[string]models.Record
	seq       map[string]int
	next      int
	chunks    []int
	upsertErr error
	// failIDs fails any statement containing one of these natural ids.
	failIDs   map[string]error
	lastQuery records.Query
}

func newFakeRecordsRepo() *fakeRecordsRepo {
	return &fakeRecordsRepo{rows: map[string]models.Record{}, seq: map[string]int{}}
}

func (f *fakeRecordsRepo) Upsert(ctx context.Context, rows []models.Record) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, len(rows))
	if f.upsertErr != nil {
		return 0, 0, f.upsertErr
	}
	for _, r := range rows {
		if err, ok := f.failIDs[r.NaturalID]; ok {
			return 0, 0, err
		}
	}
	ins, upd := 0, 0
	now := time.Now().UTC()
	for _, r := range rows {
		key := r.Kind + "/" + r.NaturalID
		if old, ok := f.rows[key]; ok {
			upd++
			r.CreatedAt = old.CreatedAt
		} else {
			ins++
			r.CreatedAt = now
		}
		f.next++
		f.seq[key] = f.next
		r.UpdatedAt = now
		f.rows[key] = r
	}
	return ins, upd, nil
}

func (f *fakeRecordsRepo) List(ctx context.Context, q records.Query) ([]models.Record, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q

	var match []models.Record
	for _, r := range f.rows {
		if r.Kind != q.Kind {
			continue
		}
		if q.UpdatedSince != nil && r.UpdatedAt.Before(*q.UpdatedSince) {
			continue
		}
		if q.IndexField != "" {
			var idx map[string]any
			_ = json.Unmarshal(r.Indexes, &idx)
			v := idx[q.IndexField]
			if q.IndexArray {
				list, _ := v.([]any)
				if !slices.Contains(list, any(q.IndexValue)) {
					continue
				}
			} else if v != q.IndexValue {
				continue
			}
		}
		match = append(match, r)
	}
	sort.Slice(match, func(i, j int) bool {
		return f.seq[match[i].Kind+"/"+match[i].NaturalID] > f.seq[match[j].Kind+"/"+match[j].NaturalID]
	})
	total := len(match)
	start := min(q.Offset, total)
	end := min(start+q.Limit, total)
	return match[start:end], total, nil
}

func (f *fakeRecordsRepo) Get(ctx context.Context, kind, id string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[kind+"/"+id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &r, nil
}

func (f *fakeRecordsRepo) DeleteSyncedBefore(ctx context.Context, kind string, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, r := range f.rows {
		if r.Kind == kind && r.SyncTime.Before(before) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []models.Activity
	deleted []time.Time
}

func (f *fakeActivityRepo) Log(ctx context.Context, a *models.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *a)
	return nil
}

func (f *fakeActivityRepo) Recent(ctx context.Context, limit int) ([]models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.entries), nil
}

func (f *fakeActivityRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, before)
	return 0, nil
}

type fakeDevicesRepo struct {
	rows    map[string]models.Device
	touched []string
}

func (f *fakeDevicesRepo) Create(ctx context.Context, d *models.Device) (*models.Device, error) {
	d.CreatedAt = time.Now()
	f.rows[d.ID] = *d
	return d, nil
}

func (f *fakeDevicesRepo) Get(ctx context.Context, id string) (*models.Device, error) {
	d, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &d, nil
}

func (f *fakeDevicesRepo) List(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	for _, d := range f.rows {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDevicesRepo) Touch(ctx context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeDevicesRepo) Revoke(ctx context.Context, id string) error {
	d, ok := f.rows[id]
	if !ok || d.RevokedAt != nil {
		return common.ErrorNotFound
	}
	now := time.Now()
	d.RevokedAt = &now
	f.rows[id] = d
	return nil
}

type fakeTokensRepo struct {
	rows map[string]models.AccessToken
}

func (f *fakeTokensRepo) Create(ctx context.Context, t *models.AccessToken) (*models.AccessToken, error) {
	t.CreatedAt = time.Now()
	f.rows[t.ID] = *t
	return t, nil
}

func (f *fakeTokensRepo) Get(ctx context.Context, id string) (*models.AccessToken, error) {
	t, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &t, nil
}

func (f *fakeTokensRepo) List(ctx context.Context) ([]models.AccessToken, error) {
	var out []models.AccessToken
	for _, t := range f.rows {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTokensRepo) Touch(ctx context.Context, id string) error { return nil }

func (f *fakeTokensRepo) Revoke(ctx context.Context, id string) error {
	t, ok := f.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	f.rows[id] = t
	return nil
}

type fakeRepoManager struct {
	records  *fakeRecordsRepo
	activity *fakeActivityRepo
	devices  *fakeDevicesRepo
	tokens   *fakeTokensRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		records:  newFakeRecordsRepo(),
		activity: &fakeActivityRepo{},
		devices:  &fakeDevicesRepo{rows: map[string]models.Device{}},
		tokens:   &fakeTokensRepo{rows: map[string]models.AccessToken{}},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error  { return nil }
func (m *fakeRepoManager) Records(dbx.DBTX) records.Repository           { return m.records }
func (m *fakeRepoManager) Activity(dbx.DBTX) activity.Repository         { return m.activity }
func (m *fakeRepoManager) Devices(dbx.DBTX) devices.Repository           { return m.devices }
func (m *fakeRepoManager) AccessTokens(dbx.DBTX) accesstokens.Repository { return m.tokens }

type fakeStore struct {
	objects map[string]string
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte) error {
	f.objects[key] = string(data)
	return nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string) (string, time.Time, error) {
	if _, ok := f.objects[key]; !ok {
		return "", time.Time{}, common.ErrorNotFound
	}
	return "https://s3.local/" + key + "?sig=x", time.Now().Add(15 * time.Minute), nil
}
