package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/contexter/internal/dbx"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/accesstokens"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/activity"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/devices"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/records"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Records(db dbx.DBTX) records.Repository
	Devices(db dbx.DBTX) devices.Repository
	AccessTokens(db dbx.DBTX) accesstokens.Repository
	Activity(db dbx.DBTX) activity.Repository
}
