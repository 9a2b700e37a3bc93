// Package server wires the server: Postgres repositories and migrations,
// the attachment store, services, the HTTP API and the retention job, and
// handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/server/config"
	"github.com/dmitrijs2005/contexter/internal/server/httpapi"
	"github.com/dmitrijs2005/contexter/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contexter/internal/server/retention"
	"github.com/dmitrijs2005/contexter/internal/server/services"
	"github.com/dmitrijs2005/contexter/internal/server/storage"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	logCloser io.Closer
	db        *sql.DB
	handler   *httpapi.Handler
	retention *retention.Job
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, closer := logging.New(c.LogLevel, logging.FileOptions{})

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// nil disables attachment offload and download links
	var attachments storage.Store
	if c.S3Bucket != "" {
		s, err := storage.NewS3Store(ctx, storage.Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
			BaseEndpoint: c.S3BaseEndpoint,
			URLValidity:  c.AttachmentURLValidity,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		attachments = s
	}

	job, err := retention.New(db, rm, c.RetentionCron, c.RetentionHours, c.LogRetentionHours, logger.With("module", "retention"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	h := httpapi.NewHandler(
		services.NewIngestService(db, rm, attachments, logger),
		services.NewQueryService(db, rm, attachments, logger),
		services.NewDeviceService(db, rm, logger),
		services.NewTokenService(db, rm, c, logger),
		httpapi.Options{
			AdminToken:     c.AdminToken,
			RateLimitRPS:   c.RateLimitRPS,
			RateLimitBurst: c.RateLimitBurst,
		},
		logger,
	)

	return &App{config: c, logger: logger, logCloser: closer, db: db, handler: h, retention: job}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.HTTPAddr, app.handler.Router(), app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives or the HTTP server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.retention.Run(ctx)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
}

func (app *App) Close() error {
	err := app.db.Close()
	_ = app.logCloser.Close()
	return err
}
