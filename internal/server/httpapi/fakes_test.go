package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/auth"
	"github.com/dmitrijs2005/contexter/internal/server/models"
	"github.com/dmitrijs2005/contexter/internal/server/services"
	"github.com/dmitrijs2005/contexter/internal/shared"
)

const (
	testDeviceID = "6f1c2d9e-7a4b-4c1e-9f00-000000000001"
	testSecret   = "device-secret"
	testToken    = "read-token"
	testAdmin    = "admin-token"
)

type upsertCall struct {
	kind     string
	items    []json.RawMessage
	syncTime time.Time
	deviceID string
}

type fakeIngest struct {
	calls  []upsertCall
	counts *services.Counts
	err    error
}

func (f *fakeIngest) Upsert(ctx context.Context, kind kinds.Kind, items []json.RawMessage, syncTime time.Time, deviceID string) (*services.Counts, error) {
	f.calls = append(f.calls, upsertCall{kind.Name, items, syncTime, deviceID})
	if f.err != nil {
		return nil, f.err
	}
	if f.counts != nil {
		return f.counts, nil
	}
	return &services.Counts{Inserted: len(items)}, nil
}

type fakeQuery struct {
	lastKind   string
	lastParams services.ListParams
	lastClaims *auth.Claims
	page       *services.Page
	err        error
}

func (f *fakeQuery) List(ctx context.Context, claims *auth.Claims, kind kinds.Kind, p services.ListParams) (*services.Page, error) {
	f.lastKind, f.lastParams, f.lastClaims = kind.Name, p, claims
	if f.err != nil {
		return nil, f.err
	}
	if f.page != nil {
		return f.page, nil
	}
	return &services.Page{Items: []map[string]any{}, Limit: p.Limit, Offset: p.Offset}, nil
}

func (f *fakeQuery) AttachmentURL(ctx context.Context, claims *auth.Claims, messageID, attachmentID string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return "https://s3.example/" + messageID + "/" + attachmentID, time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC), nil
}

func (f *fakeQuery) FieldURL(ctx context.Context, claims *auth.Claims, kind kinds.Kind, id, field string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return "https://s3.example/" + kind.Name + "/" + id + "/" + field, time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC), nil
}

type fakeDevices struct {
	registered []string
	revoked    []string
	list       []models.Device
}

func (f *fakeDevices) Register(ctx context.Context, name string) (string, string, error) {
	f.registered = append(f.registered, name)
	return "new-device", "new-secret", nil
}

func (f *fakeDevices) Authenticate(ctx context.Context, id, secret string) (*models.Device, error) {
	if id != testDeviceID || secret != testSecret {
		return nil, common.ErrorUnauthorized
	}
	return &models.Device{ID: id, Name: "laptop"}, nil
}

func (f *fakeDevices) List(ctx context.Context) ([]models.Device, error) { return f.list, nil }

func (f *fakeDevices) Revoke(ctx context.Context, id string) error {
	if id == "missing" {
		return common.ErrorNotFound
	}
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeTokens struct {
	claims *auth.Claims
	issued []shared.AccessTokenRequest
}

func (f *fakeTokens) Issue(ctx context.Context, req shared.AccessTokenRequest) (*shared.AccessTokenResponse, error) {
	for _, s := range req.Scopes {
		if s == "bogus" {
			return nil, common.ErrorValidation
		}
	}
	f.issued = append(f.issued, req)
	return &shared.AccessTokenResponse{ID: "tok-1", Token: "signed"}, nil
}

func (f *fakeTokens) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	if token != testToken {
		return nil, common.ErrorUnauthorized
	}
	return f.claims, nil
}

func (f *fakeTokens) List(ctx context.Context) ([]models.AccessToken, error) {
	return []models.AccessToken{{ID: "tok-1", Name: "dash", Scopes: []string{"*"}}}, nil
}

func (f *fakeTokens) Revoke(ctx context.Context, id string) error { return nil }

type fixture struct {
	h       *Handler
	ingest  *fakeIngest
	query   *fakeQuery
	devices *fakeDevices
	tokens  *fakeTokens
}

func newFixture() *fixture {
	f := &fixture{
		ingest:  &fakeIngest{},
		query:   &fakeQuery{},
		devices: &fakeDevices{},
		tokens:  &fakeTokens{claims: &auth.Claims{Scopes: []string{auth.ScopeAll}}},
	}
	f.h = NewHandler(f.ingest, f.query, f.devices, f.tokens,
		Options{AdminToken: testAdmin, RateLimitRPS: 1000, RateLimitBurst: 1000}, logging.Nop())
	f.h.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return f
}
