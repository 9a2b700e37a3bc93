// Package imagesrc collects screenshots that a capture tool drops as image
// files into a directory. Capturing itself is left to that tool.
package imagesrc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/sources"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/models"
)

// MaxImageBytes caps the size of image files read into records.
const MaxImageBytes = 10 << 20

var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

type Source struct {
	Dir      string
	log      logging.Logger
	maxBytes int64
}

func New(dir string, log logging.Logger) *Source {
	if log == nil {
		log = logging.Nop()
	}
	return &Source{Dir: dir, log: log, maxBytes: MaxImageBytes}
}

// Fetch returns the images modified at or after since, newest first. The id
// of a screenshot is derived from its content, so a re-saved file keeps it.
// A missing directory yields no records.
func (s *Source) Fetch(ctx context.Context, since time.Time, _ sources.FetchOptions) ([]models.Record, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read screenshot dir: %w", err)
	}

	type timed struct {
		at  time.Time
		rec models.Record
	}
	var out []timed

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		mime, ok := mimeTypes[strings.ToLower(filepath.Ext(e.Name()))]
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(since) || info.Size() == 0 {
			continue
		}
		if info.Size() > s.maxBytes {
			s.log.Warn(ctx, "screenshot too large, skipping", "file", e.Name(), "size", info.Size())
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			s.log.Warn(ctx, "screenshot unreadable, skipping", "file", e.Name(), "error", err)
			continue
		}
		sum := sha256.Sum256(data)
		w, h := dimensions(data)
		at := info.ModTime().UTC()

		out = append(out, timed{at: at, rec: models.Record{
			"id":         hex.EncodeToString(sum[:16]),
			"filename":   e.Name(),
			"mimeType":   mime,
			"width":      w,
			"height":     h,
			"size":       int64(len(data)),
			"capturedAt": at,
			"data":       base64.StdEncoding.EncodeToString(data),
		}})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].at.After(out[j].at) })
	recs := make([]models.Record, len(out))
	for i, t := range out {
		recs[i] = t.rec
	}
	return recs, nil
}

// dimensions reads the image header; formats without a registered decoder
// report 0x0.
func dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
