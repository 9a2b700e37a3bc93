package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Validation errors.
	ErrorValidation  = errors.New("validation error")
	ErrorUnknownKind = errors.New("unknown record kind")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Agent-side sync errors.
	ErrNoEncryptionKey = errors.New("encryption key not set")
	ErrBackfillRunning = errors.New("backfill already in progress")
)

// ErrorKind classifies a failed sync step so callers can decide whether a
// retry makes sense.
type ErrorKind string

const (
	KindConfig       ErrorKind = "config"
	KindTransient    ErrorKind = "transient"
	KindRejected     ErrorKind = "rejected"
	KindUnauthorized ErrorKind = "unauthorized"
	KindCancelled    ErrorKind = "cancelled"
)

// RejectedItem reports a single item that failed server-side validation.
type RejectedItem struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// SyncError is the error returned by upload and sync steps.
type SyncError struct {
	Kind     ErrorKind
	Status   int
	Message  string
	Rejected []RejectedItem
	Err      error
}

func (e *SyncError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err. Errors that are not a
// SyncError are treated as transient; ErrNoEncryptionKey is a config error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrNoEncryptionKey) {
		return KindConfig
	}
	return KindTransient
}
