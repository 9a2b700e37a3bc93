package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/shared"
)

type uploadBody struct {
	items    []json.RawMessage
	syncTime time.Time
}

// upload handles POST <kind.Path>. A body that cannot be read as an upload
// is rejected as a whole with 400; individual invalid items are reported
// in the 200 response.
func (h *Handler) upload(kind kinds.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := deviceFrom(r.Context())
		if d == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		body, err := h.decodeUpload(w, r, kind, d.ID)
		if err != nil {
			h.logger.Warn(r.Context(), "invalid upload body", "kind", kind.Name, "device", d.ID, "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if len(body.items) == 0 {
			writeJSON(w, http.StatusOK, shared.SyncResponse{Success: true})
			return
		}

		counts, err := h.ingest.Upsert(r.Context(), kind, body.items, body.syncTime, d.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, shared.SyncResponse{
			Success:       true,
			InsertedCount: counts.Inserted,
			UpdatedCount:  counts.Updated,
			RejectedCount: len(counts.Rejected),
			SkippedCount:  counts.Skipped,
			Rejected:      counts.Rejected,
		})
	}
}

func (h *Handler) decodeUpload(w http.ResponseWriter, r *http.Request, kind kinds.Kind, deviceID string) (*uploadBody, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid request body: %v", err)
	}

	out := &uploadBody{syncTime: h.now().UTC()}

	list, ok := raw[kind.Plural]
	if !ok {
		return nil, fmt.Errorf("missing %s", kind.Plural)
	}
	if err := json.Unmarshal(list, &out.items); err != nil {
		return nil, fmt.Errorf("%s must be an array", kind.Plural)
	}

	if v, ok := raw[shared.BodySyncTime]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%s must be a string", shared.BodySyncTime)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", shared.BodySyncTime, err)
		}
		out.syncTime = t.UTC()
	}

	if v, ok := raw[shared.BodyDeviceID]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%s must be a string", shared.BodyDeviceID)
		}
		if s != "" && s != deviceID {
			return nil, fmt.Errorf("%s does not match credentials", shared.BodyDeviceID)
		}
	}

	if kind.CountKey != "" {
		if v, ok := raw[kind.CountKey]; ok {
			var n int
			if err := json.Unmarshal(v, &n); err != nil {
				return nil, fmt.Errorf("%s must be a number", kind.CountKey)
			}
			if n != len(out.items) {
				return nil, fmt.Errorf("%s is %d but %d items were sent", kind.CountKey, n, len(out.items))
			}
		}
	}
	return out, nil
}
