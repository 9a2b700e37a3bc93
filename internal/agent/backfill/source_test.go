package backfill

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/contexter/internal/models"
)

// sliceSource serves rows from memory. With inclusive set it also returns
// rows equal to the cursor, as a source with a ">=" query would.
type sliceSource struct {
	mu        sync.Mutex
	rows      []Row
	inclusive bool
	failAt    int
	calls     int
	closed    bool
}

func newSliceSource(rows []Row) *sliceSource {
	sorted := append([]Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[j].Cursor.After(sorted[i].Cursor) })
	return &sliceSource{rows: sorted, failAt: -1}
}

func (s *sliceSource) Count(_ context.Context, w Window) (int, error) {
	n := 0
	for _, r := range s.rows {
		if w.Contains(r.Cursor.Timestamp) {
			n++
		}
	}
	return n, nil
}

func (s *sliceSource) FetchPage(_ context.Context, w Window, after *Cursor, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if call == s.failAt {
		return nil, errBoom
	}

	var out []Row
	for _, r := range s.rows {
		if !w.Contains(r.Cursor.Timestamp) {
			continue
		}
		if after != nil {
			ok := r.Cursor.After(*after)
			if s.inclusive && r.Cursor.Equal(*after) {
				ok = true
			}
			if !ok {
				continue
			}
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sliceSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func mkRow(ts time.Time, id int64) Row {
	return Row{Cursor: Cursor{Timestamp: ts, ID: id}, Record: models.Record{"rowId": id}}
}
