// Package shared holds the JSON wire types exchanged between agent and
// server over HTTP.
package shared

import (
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
)

// Upload body keys common to every kind. The item list itself sits under
// the kind's plural key.
const (
	BodySyncTime = "syncTime"
	BodyDeviceID = "deviceId"
)

// SyncResponse is returned by every upload endpoint on success.
type SyncResponse struct {
	Success       bool                  `json:"success"`
	InsertedCount int                   `json:"insertedCount"`
	UpdatedCount  int                   `json:"updatedCount"`
	RejectedCount int                   `json:"rejectedCount"`
	SkippedCount  int                   `json:"skippedCount"`
	Rejected      []common.RejectedItem `json:"rejected,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string                `json:"error"`
	Rejected []common.RejectedItem `json:"rejected,omitempty"`
}

type RegisterDeviceRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type RegisterDeviceResponse struct {
	DeviceID string `json:"deviceId"`
	Secret   string `json:"secret"`
}

type AccessTokenRequest struct {
	Name            string   `json:"name" validate:"required,max=128"`
	Scopes          []string `json:"scopes" validate:"required,min=1,dive,required"`
	DataWindowHours int      `json:"dataWindowHours" validate:"gte=0"`
	ExpiresInHours  int      `json:"expiresInHours" validate:"gte=0"`
}

type AccessTokenResponse struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ListResponse is returned by the read endpoints.
type ListResponse struct {
	Success bool             `json:"success"`
	Items   []map[string]any `json:"items"`
	Count   int              `json:"count"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// AttachmentURLResponse carries a short-lived download link.
type AttachmentURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
