// Package models defines server-side data models persisted in the database.
package models

import (
	"encoding/json"
	"time"
)

// Device is an agent allowed to upload. Only the bcrypt hash of its secret
// is kept.
type Device struct {
	ID         string
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastSeenAt *time.Time
	RevokedAt  *time.Time
}

// AccessToken describes an issued read token. The token itself is a JWT
// carrying ID; revocation is checked against this row.
type AccessToken struct {
	ID              string
	Name            string
	Scopes          []string
	DataWindowHours int
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	LastUsedAt      *time.Time
	RevokedAt       *time.Time
}

// Active reports whether the token can still be used at now.
func (t *AccessToken) Active(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// Record is one stored item of a kind. Payload is the item as uploaded
// minus its index fields, which live in Indexes.
type Record struct {
	Kind      string
	NaturalID string
	Payload   json.RawMessage
	Indexes   json.RawMessage
	DeviceID  string
	SyncTime  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Activity directions.
const (
	DirectionWrite = "write"
	DirectionRead  = "read"
)

// Activity is an audit entry for a sync or a read.
type Activity struct {
	ID          int64
	Direction   string
	Kind        string
	Description string
	Count       int
	Actor       string
	CreatedAt   time.Time
}
