package accesstokens

import (
	"context"

	"github.com/dmitrijs2005/contexter/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.AccessToken) (*models.AccessToken, error)
	Get(ctx context.Context, id string) (*models.AccessToken, error)
	List(ctx context.Context) ([]models.AccessToken, error)
	Touch(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
}
