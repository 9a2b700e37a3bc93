package httpapi

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router returns the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.loggerMiddleware)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.rateLimitMiddleware)

	admin := api.NewRoute().Subrouter()
	admin.Use(h.adminMiddleware)
	admin.HandleFunc("/devices/register", h.registerDevice).Methods(http.MethodPost)
	admin.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	admin.HandleFunc("/devices/{id}/revoke", h.revokeDevice).Methods(http.MethodPost)
	admin.HandleFunc("/access-tokens", h.issueToken).Methods(http.MethodPost)
	admin.HandleFunc("/access-tokens", h.listTokens).Methods(http.MethodGet)
	admin.HandleFunc("/access-tokens/{id}/revoke", h.revokeToken).Methods(http.MethodPost)

	write := r.NewRoute().Subrouter()
	write.Use(h.rateLimitMiddleware, h.deviceAuthMiddleware)
	for _, k := range kinds.All() {
		write.HandleFunc(k.Path, h.upload(k)).Methods(http.MethodPost)
	}

	names := make([]string, 0)
	for _, k := range kinds.All() {
		names = append(names, k.Name)
	}
	read := api.NewRoute().Subrouter()
	read.Use(h.tokenAuthMiddleware)
	read.HandleFunc("/attachments/{messageId}/{attachmentId}", h.attachmentURL).Methods(http.MethodGet)
	read.HandleFunc("/screenshots/{id}/image", h.screenshotURL).Methods(http.MethodGet)
	read.HandleFunc("/{kind:"+strings.Join(names, "|")+"}", h.list).Methods(http.MethodGet)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
