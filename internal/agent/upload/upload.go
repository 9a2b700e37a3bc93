// Package upload sends transformed records to the server in bounded,
// strictly sequential chunks.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/models"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
	rec "github.com/dmitrijs2005/contexter/internal/models"
	"github.com/dmitrijs2005/contexter/internal/netx"
	"github.com/dmitrijs2005/contexter/internal/shared"
)

const maxErrorMessage = 1000

// envelopeBytes is reserved in every body for the keys around the items.
const envelopeBytes = 1 << 10

// Credentials authenticate the device on write endpoints.
type Credentials struct {
	DeviceID string
	Secret   string
}

// RequestRecorder receives one entry per HTTP call.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, l models.RequestLog) error
}

// Result sums the server counts over every chunk of one Upload call.
type Result struct {
	Inserted int
	Updated  int
	Rejected int
	Skipped  int
	Requests int
	// RejectedItems indexes refer to positions in the uploaded slice.
	RejectedItems []common.RejectedItem
}

type Uploader struct {
	baseURL    string
	creds      Credentials
	chunkSize  int
	chunkBytes int
	client     *http.Client
	recorder  RequestRecorder
	log       logging.Logger
	now       func() time.Time
}

type Option func(*Uploader)

func WithChunkSize(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.chunkSize = n
		}
	}
}

// WithChunkBytes bounds the encoded size of the items in one request.
func WithChunkBytes(n int) Option {
	return func(u *Uploader) {
		if n > envelopeBytes {
			u.chunkBytes = n
		}
	}
}

func WithHTTPClient(c *http.Client) Option { return func(u *Uploader) { u.client = c } }

func WithRecorder(r RequestRecorder) Option { return func(u *Uploader) { u.recorder = r } }

func WithLogger(l logging.Logger) Option { return func(u *Uploader) { u.log = l } }

func New(baseURL string, creds Credentials, opts ...Option) *Uploader {
	u := &Uploader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		chunkSize:  common.UploadChunkSize,
		chunkBytes: common.UploadChunkBytes,
		client:     &http.Client{Timeout: 60 * time.Second},
		log:        logging.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Upload sends items to the kind's endpoint in chunks bounded by the
// configured count and encoded size, one request at a time, all carrying
// syncTime. An item that alone exceeds the size budget is not sent and is
// reported in RejectedItems. The first failing chunk stops the upload and
// is returned as a *common.SyncError; chunks already accepted stay
// accepted. Upload never retries.
func (u *Uploader) Upload(ctx context.Context, kind kinds.Kind, items []rec.Record, syncTime time.Time) (Result, error) {
	var res Result
	if len(items) == 0 {
		return res, nil
	}

	spans, oversized, err := u.plan(items)
	if err != nil {
		return res, &common.SyncError{Kind: common.KindRejected, Message: err.Error(), Err: err}
	}
	for _, o := range oversized {
		u.log.Warn(ctx, "item too large to upload", "kind", kind.Name, "index", o.Index, "error", o.Error)
		res.Rejected++
		res.RejectedItems = append(res.RejectedItems, o)
	}

	st := syncTime.UTC().Format(time.RFC3339Nano)
	for _, sp := range spans {
		start := sp.start
		chunk := items[sp.start:sp.end]

		body := map[string]any{
			kind.Plural:         chunk,
			shared.BodySyncTime: st,
			shared.BodyDeviceID: u.creds.DeviceID,
		}
		if kind.CountKey != "" {
			body[kind.CountKey] = len(chunk)
		}

		sr, err := u.send(ctx, kind.Path, body, len(chunk), start)
		res.Requests++
		if err != nil {
			u.log.Error(ctx, "upload chunk failed", "kind", kind.Name, "offset", start, "size", len(chunk), "error", err)
			return res, err
		}

		res.Inserted += sr.InsertedCount
		res.Updated += sr.UpdatedCount
		res.Rejected += sr.RejectedCount
		res.Skipped += sr.SkippedCount
		for _, r := range sr.Rejected {
			res.RejectedItems = append(res.RejectedItems, common.RejectedItem{Index: r.Index + start, Error: r.Error})
		}
	}

	u.log.Info(ctx, "uploaded", "kind", kind.Name, "items", len(items), "requests", res.Requests,
		"inserted", res.Inserted, "updated", res.Updated, "rejected", res.Rejected)
	return res, nil
}

type span struct{ start, end int }

// plan splits items into contiguous chunks of at most chunkSize items whose
// encoded size fits the byte budget. Items over the budget on their own end
// the current chunk and are returned separately.
func (u *Uploader) plan(items []rec.Record) ([]span, []common.RejectedItem, error) {
	budget := u.chunkBytes - envelopeBytes
	var (
		spans     []span
		oversized []common.RejectedItem
		cur       span
		size      int
	)
	flush := func(next int) {
		if cur.end > cur.start {
			spans = append(spans, cur)
		}
		cur = span{start: next, end: next}
		size = 0
	}

	for i, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, nil, fmt.Errorf("encode item %d: %w", i, err)
		}
		n := len(b) + 1
		if n > budget {
			flush(i + 1)
			oversized = append(oversized, common.RejectedItem{
				Index: i,
				Error: fmt.Sprintf("item is %d bytes, upload limit is %d", len(b), budget),
			})
			continue
		}
		if cur.end-cur.start == u.chunkSize || size+n > budget {
			flush(i)
		}
		cur.end = i + 1
		size += n
	}
	flush(len(items))
	return spans, oversized, nil
}

func (u *Uploader) send(ctx context.Context, path string, body any, n, offset int) (*shared.SyncResponse, error) {
	headers := map[string]string{
		common.DeviceIDHeaderName:      u.creds.DeviceID,
		common.AuthorizationHeaderName: common.BearerPrefix + u.creds.Secret,
	}

	started := u.now()
	resp, err := netx.PostJSON(ctx, u.client, u.baseURL+path, headers, body)
	entry := models.RequestLog{
		Timestamp: started,
		Method:    http.MethodPost,
		Path:      path,
		Items:     n,
		Duration:  u.now().Sub(started),
	}

	if err != nil {
		entry.Status = models.RequestError
		entry.Error = err.Error()
		u.record(ctx, entry)

		kind := common.KindTransient
		if errors.Is(err, context.Canceled) {
			kind = common.KindCancelled
		}
		return nil, &common.SyncError{Kind: kind, Message: err.Error(), Err: err}
	}

	entry.StatusCode = resp.StatusCode
	if !resp.OK() {
		se := classify(resp, offset)
		entry.Status = models.RequestError
		entry.Error = se.Message
		u.record(ctx, entry)
		return nil, se
	}

	var sr shared.SyncResponse
	if err := resp.Decode(&sr); err != nil {
		entry.Status = models.RequestError
		entry.Error = err.Error()
		u.record(ctx, entry)
		return nil, &common.SyncError{Kind: common.KindTransient, Status: resp.StatusCode, Message: err.Error(), Err: err}
	}

	entry.Status = models.RequestSuccess
	u.record(ctx, entry)
	return &sr, nil
}

func (u *Uploader) record(ctx context.Context, l models.RequestLog) {
	if u.recorder == nil {
		return
	}
	if err := u.recorder.RecordRequest(ctx, l); err != nil {
		u.log.Warn(ctx, "failed to record request", "path", l.Path, "error", err)
	}
}

// classify maps a non-2xx response to a SyncError.
func classify(resp *netx.Response, offset int) *common.SyncError {
	var er shared.ErrorResponse
	msg := ""
	if err := resp.Decode(&er); err == nil && er.Error != "" {
		msg = er.Error
	} else {
		msg = strings.TrimSpace(string(resp.Body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}

	se := &common.SyncError{Status: resp.StatusCode, Message: msg}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		se.Kind = common.KindUnauthorized
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		se.Kind = common.KindRejected
		for _, r := range er.Rejected {
			se.Rejected = append(se.Rejected, common.RejectedItem{Index: r.Index + offset, Error: r.Error})
		}
	default:
		se.Kind = common.KindTransient
	}
	return se
}

// String renders a result for logs and the status command.
func (r Result) String() string {
	return fmt.Sprintf("inserted=%d updated=%d rejected=%d skipped=%d requests=%d",
		r.Inserted, r.Updated, r.Rejected, r.Skipped, r.Requests)
}
