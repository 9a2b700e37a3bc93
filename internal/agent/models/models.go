// Package models defines agent-side data persisted in the local store.
package models

import "time"

// Request outcome values.
const (
	RequestSuccess = "success"
	RequestError   = "error"
)

// RequestLog is one HTTP call made by the uploader.
type RequestLog struct {
	ID         int64
	Timestamp  time.Time
	Method     string
	Path       string
	Status     string
	StatusCode int
	Duration   time.Duration
	Items      int
	Error      string
}

// SyncState is the persisted scheduler view of one source.
type SyncState struct {
	Source       string
	LastRunAt    time.Time
	LastStatus   string
	LastError    string
	LastFailedID string
}
