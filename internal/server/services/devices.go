package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/auth"
	"github.com/dmitrijs2005/contexter/internal/server/models"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// DeviceService registers agents and checks their credentials.
type DeviceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewDeviceService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *DeviceService {
	return &DeviceService{db: db, repomanager: m, logger: logger}
}

// Register creates a device and returns its id and secret. Only a bcrypt
// hash of the secret is stored.
func (s *DeviceService) Register(ctx context.Context, name string) (string, string, error) {
	secret, err := auth.NewSecret()
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return "", "", fmt.Errorf("hash secret: %w", err)
	}

	d := &models.Device{ID: uuid.NewString(), Name: name, SecretHash: hash}
	if _, err := s.repomanager.Devices(s.db).Create(ctx, d); err != nil {
		return "", "", err
	}

	s.logger.Info(ctx, "device registered", "device", d.ID, "name", name)
	return d.ID, secret, nil
}

// Authenticate returns the device for id when secret matches and the
// device is not revoked. Every failure is ErrorUnauthorized.
func (s *DeviceService) Authenticate(ctx context.Context, id, secret string) (*models.Device, error) {
	if _, err := uuid.Parse(id); err != nil || secret == "" {
		return nil, common.ErrorUnauthorized
	}

	repo := s.repomanager.Devices(s.db)
	d, err := repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if d.RevokedAt != nil || !auth.CheckSecret(d.SecretHash, secret) {
		return nil, common.ErrorUnauthorized
	}

	if err := repo.Touch(ctx, id); err != nil {
		s.logger.Warn(ctx, "failed to touch device", "device", id, "error", err)
	}
	return d, nil
}

func (s *DeviceService) List(ctx context.Context) ([]models.Device, error) {
	return s.repomanager.Devices(s.db).List(ctx)
}

func (s *DeviceService) Revoke(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}
	return s.repomanager.Devices(s.db).Revoke(ctx, id)
}
