// Package httpapi exposes the upload, read and admin endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/auth"
	"github.com/dmitrijs2005/contexter/internal/server/models"
	"github.com/dmitrijs2005/contexter/internal/server/services"
	"github.com/dmitrijs2005/contexter/internal/shared"
	"github.com/go-playground/validator/v10"
)

// maxUploadBytes bounds one upload body. Attachments travel inline.
const maxUploadBytes = 64 << 20

type Ingester interface {
	Upsert(ctx context.Context, kind kinds.Kind, items []json.RawMessage, syncTime time.Time, deviceID string) (*services.Counts, error)
}

type Querier interface {
	List(ctx context.Context, claims *auth.Claims, kind kinds.Kind, p services.ListParams) (*services.Page, error)
	AttachmentURL(ctx context.Context, claims *auth.Claims, messageID, attachmentID string) (string, time.Time, error)
	FieldURL(ctx context.Context, claims *auth.Claims, kind kinds.Kind, id, field string) (string, time.Time, error)
}

type DeviceManager interface {
	Register(ctx context.Context, name string) (string, string, error)
	Authenticate(ctx context.Context, id, secret string) (*models.Device, error)
	List(ctx context.Context) ([]models.Device, error)
	Revoke(ctx context.Context, id string) error
}

type TokenManager interface {
	Issue(ctx context.Context, req shared.AccessTokenRequest) (*shared.AccessTokenResponse, error)
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
	List(ctx context.Context) ([]models.AccessToken, error)
	Revoke(ctx context.Context, id string) error
}

// Options configures a Handler. AdminToken empty disables the admin routes.
type Options struct {
	AdminToken     string
	RateLimitRPS   float64
	RateLimitBurst int
}

type Handler struct {
	ingest     Ingester
	query      Querier
	devices    DeviceManager
	tokens     TokenManager
	adminToken string
	limiters   *limiterPool
	validate   *validator.Validate
	logger     logging.Logger
	now        func() time.Time
}

func NewHandler(i Ingester, q Querier, d DeviceManager, t TokenManager, o Options, logger logging.Logger) *Handler {
	return &Handler{
		ingest:     i,
		query:      q,
		devices:    d,
		tokens:     t,
		adminToken: o.AdminToken,
		limiters:   newLimiterPool(o.RateLimitRPS, o.RateLimitBurst),
		validate:   validator.New(),
		logger:     logger.With("module", "http"),
		now:        time.Now,
	}
}
