package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/auth"
	"github.com/dmitrijs2005/contexter/internal/server/config"
	"github.com/dmitrijs2005/contexter/internal/server/models"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contexter/internal/shared"
	"github.com/google/uuid"
)

// TokenService issues and checks read access tokens.
type TokenService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	jwtSecret   []byte
	validity    time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *TokenService {
	return &TokenService{
		db:          db,
		repomanager: m,
		jwtSecret:   []byte(cfg.SecretKey),
		validity:    cfg.AccessTokenValidityDuration,
		logger:      logger,
		now:         time.Now,
	}
}

// Issue stores a token row and returns the signed token. Scopes must be
// kind names or "*". ExpiresInHours of zero uses the configured validity.
func (s *TokenService) Issue(ctx context.Context, req shared.AccessTokenRequest) (*shared.AccessTokenResponse, error) {
	for _, sc := range req.Scopes {
		if sc == auth.ScopeAll {
			continue
		}
		if _, err := kinds.Get(sc); err != nil {
			return nil, fmt.Errorf("%w: unknown scope %q", common.ErrorValidation, sc)
		}
	}

	validity := s.validity
	if req.ExpiresInHours > 0 {
		validity = time.Duration(req.ExpiresInHours) * time.Hour
	}

	t := &models.AccessToken{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Scopes:          req.Scopes,
		DataWindowHours: req.DataWindowHours,
	}
	if validity > 0 {
		exp := s.now().Add(validity).UTC().Truncate(time.Second)
		t.ExpiresAt = &exp
	}

	if _, err := s.repomanager.AccessTokens(s.db).Create(ctx, t); err != nil {
		return nil, err
	}

	signed, err := auth.GenerateToken(t.ID, t.Scopes, t.DataWindowHours, s.jwtSecret, validity)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s.logger.Info(ctx, "access token issued", "token", t.ID, "name", t.Name, "scopes", t.Scopes)
	return &shared.AccessTokenResponse{ID: t.ID, Token: signed, ExpiresAt: t.ExpiresAt}, nil
}

// Authenticate verifies the signature and that the token row is still
// active. Every failure is ErrorUnauthorized.
func (s *TokenService) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, common.ErrorUnauthorized
	}

	repo := s.repomanager.AccessTokens(s.db)
	row, err := repo.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if !row.Active(s.now()) {
		return nil, common.ErrorUnauthorized
	}

	if err := repo.Touch(ctx, claims.ID); err != nil {
		s.logger.Warn(ctx, "failed to touch token", "token", claims.ID, "error", err)
	}
	return claims, nil
}

func (s *TokenService) List(ctx context.Context) ([]models.AccessToken, error) {
	return s.repomanager.AccessTokens(s.db).List(ctx)
}

func (s *TokenService) Revoke(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}
	return s.repomanager.AccessTokens(s.db).Revoke(ctx, id)
}
