package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/server/services"
	"github.com/dmitrijs2005/contexter/internal/shared"
	"github.com/gorilla/mux"
)

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	kind, err := kinds.Get(mux.Vars(r)["kind"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := listParams(kind, r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.query.List(r.Context(), claimsFrom(r.Context()), kind, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, shared.ListResponse{
		Success: true,
		Items:   page.Items,
		Count:   len(page.Items),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
}

// listParams reads limit, offset and at most one index filter given as
// <indexField>=<token>.
func listParams(kind kinds.Kind, q url.Values) (services.ListParams, error) {
	p := services.ListParams{Limit: services.DefaultListLimit}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("%w: limit must be a positive integer", common.ErrorValidation)
		}
		if n > services.MaxListLimit {
			return p, fmt.Errorf("%w: limit must not exceed %d", common.ErrorValidation, services.MaxListLimit)
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: offset must be a non-negative integer", common.ErrorValidation)
		}
		p.Offset = n
	}

	scalar, array := kind.IndexFields()
	for _, f := range slices.Concat(scalar, array) {
		if !q.Has(f) {
			continue
		}
		if p.Filter != "" {
			return p, fmt.Errorf("%w: only one filter is supported", common.ErrorValidation)
		}
		p.Filter = f
		p.Value = q.Get(f)
	}
	return p, nil
}

func (h *Handler) attachmentURL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	u, exp, err := h.query.AttachmentURL(r.Context(), claimsFrom(r.Context()), vars["messageId"], vars["attachmentId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shared.AttachmentURLResponse{URL: u, ExpiresAt: exp})
}

func (h *Handler) screenshotURL(w http.ResponseWriter, r *http.Request) {
	k, err := kinds.Get(kinds.Screenshot)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, exp, err := h.query.FieldURL(r.Context(), claimsFrom(r.Context()), k, mux.Vars(r)["id"], "data")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shared.AttachmentURLResponse{URL: u, ExpiresAt: exp})
}
