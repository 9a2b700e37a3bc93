package devices

import (
	"context"

	"github.com/dmitrijs2005/contexter/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, d *models.Device) (*models.Device, error)
	Get(ctx context.Context, id string) (*models.Device, error)
	List(ctx context.Context) ([]models.Device, error)
	Touch(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
}
