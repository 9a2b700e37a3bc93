package activity

import (
	"context"
	"time"

	"github.com/dmitrijs2005/contexter/internal/server/models"
)

type Repository interface {
	Log(ctx context.Context, a *models.Activity) error
	Recent(ctx context.Context, limit int) ([]models.Activity, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
