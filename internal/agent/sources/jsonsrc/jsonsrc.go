// Package jsonsrc reads records that companion exporters drop as JSON
// lines, one file per kind: <dir>/<kind>.jsonl.
package jsonsrc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/sources"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/models"
)

// maxLine bounds a single exported record.
const maxLine = 16 << 20

// Source serves one kind from an export directory.
type Source struct {
	Dir  string
	Kind kinds.Kind
}

func New(dir string, kind kinds.Kind) *Source {
	return &Source{Dir: dir, Kind: kind}
}

func (s *Source) Path() string {
	return filepath.Join(s.Dir, s.Kind.Name+".jsonl")
}

// Fetch returns records whose time field is not before since, newest
// first. Kinds without a time field return every record. A missing export
// file yields no records.
func (s *Source) Fetch(ctx context.Context, since time.Time, _ sources.FetchOptions) ([]models.Record, error) {
	f, err := os.Open(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	type timed struct {
		at  time.Time
		rec models.Record
	}
	var out []timed

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var r models.Record
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.Kind.Name, line, err)
		}
		at, ok := sources.RecordTime(r, s.Kind.TimeField)
		if s.Kind.TimeField != "" && (!ok || at.Before(since)) {
			continue
		}
		out = append(out, timed{at: at, rec: r})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].at.After(out[j].at) })

	recs := make([]models.Record, len(out))
	for i, t := range out {
		recs[i] = t.rec
	}
	return recs, nil
}
