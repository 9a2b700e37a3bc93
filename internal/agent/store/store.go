// Package store opens the agent's local SQLite database and exposes its
// repositories plus typed accessors for the settings kept in metadata.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/contexter/internal/agent/migrations"
	"github.com/dmitrijs2005/contexter/internal/agent/repositories/metadata"
	"github.com/dmitrijs2005/contexter/internal/agent/repositories/requestlogs"
	"github.com/dmitrijs2005/contexter/internal/agent/repositories/syncstate"
	"github.com/dmitrijs2005/contexter/internal/cryptox"
)

// Metadata keys.
const (
	KeyDeviceID         = "device-id"
	KeyDeviceSecret     = "device-secret"
	KeyEncryptionSecret = "encryption-secret"
	KeyKeySalt          = "encryption-salt"
	checkpointPrefix    = "last-exported:"
)

// DefaultKeySalt stretches the passphrase unless a salt was imported. Every
// agent and searching client sharing a passphrase must use the same salt or
// their index tokens differ.
var DefaultKeySalt = []byte("contexter/encryption-key/v1")

var (
	gooseSetDialect = goose.SetDialect
	gooseUpContext  = goose.UpContext
)

type Store struct {
	DB        *sql.DB
	Metadata  metadata.Repository
	Requests  requestlogs.Repository
	SyncState syncstate.Repository
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := gooseSetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		DB:        db,
		Metadata:  metadata.NewSQLiteRepository(db),
		Requests:  requestlogs.NewSQLiteRepository(db),
		SyncState: syncstate.NewSQLiteRepository(db),
	}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	v, err := s.Metadata.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Credentials returns the registered device id and secret; both are empty
// before registration.
func (s *Store) Credentials(ctx context.Context) (id, secret string, err error) {
	if id, err = s.getString(ctx, KeyDeviceID); err != nil {
		return "", "", err
	}
	if secret, err = s.getString(ctx, KeyDeviceSecret); err != nil {
		return "", "", err
	}
	return id, secret, nil
}

func (s *Store) SetCredentials(ctx context.Context, id, secret string) error {
	if err := s.Metadata.Set(ctx, KeyDeviceID, []byte(id)); err != nil {
		return err
	}
	return s.Metadata.Set(ctx, KeyDeviceSecret, []byte(secret))
}

// Keys derives encryption keys from the stored secret. It returns
// cryptox.ErrNoKey when no secret has been set.
func (s *Store) Keys(ctx context.Context) (*cryptox.Keys, error) {
	secret, err := s.getString(ctx, KeyEncryptionSecret)
	if err != nil {
		return nil, err
	}
	return cryptox.DeriveKeys(secret)
}

func (s *Store) SetEncryptionSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return cryptox.ErrNoKey
	}
	return s.Metadata.Set(ctx, KeyEncryptionSecret, []byte(secret))
}

// KeySalt returns the imported passphrase salt, or DefaultKeySalt.
func (s *Store) KeySalt(ctx context.Context) ([]byte, error) {
	salt, err := s.Metadata.Get(ctx, KeyKeySalt)
	if err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return DefaultKeySalt, nil
	}
	return salt, nil
}

func (s *Store) SetKeySalt(ctx context.Context, salt []byte) error {
	if len(salt) == 0 {
		return fmt.Errorf("empty salt")
	}
	return s.Metadata.Set(ctx, KeyKeySalt, salt)
}

// Checkpoint returns the last exported timestamp of kind; ok is false when
// none was recorded.
func (s *Store) Checkpoint(ctx context.Context, kind string) (t time.Time, ok bool, err error) {
	v, err := s.Metadata.Get(ctx, checkpointPrefix+kind)
	if err != nil || v == nil {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("checkpoint[%s]: %w", kind, err)
	}
	return t, true, nil
}

func (s *Store) SetCheckpoint(ctx context.Context, kind string, t time.Time) error {
	return s.Metadata.Set(ctx, checkpointPrefix+kind, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// Checkpoints lists every recorded checkpoint by kind.
func (s *Store) Checkpoints(ctx context.Context) (map[string]time.Time, error) {
	m, err := s.Metadata.List(ctx, checkpointPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(m))
	var errs []error
	for k, v := range m {
		t, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("checkpoint[%s]: %w", k, err))
			continue
		}
		out[k[len(checkpointPrefix):]] = t
	}
	return out, errors.Join(errs...)
}
