// Package agent wires the desktop agent: local store, collectors, the
// per-source sync schedulers and the backfill engines.
package agent

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/backfill"
	"github.com/dmitrijs2005/contexter/internal/agent/config"
	"github.com/dmitrijs2005/contexter/internal/agent/models"
	"github.com/dmitrijs2005/contexter/internal/agent/scheduler"
	"github.com/dmitrijs2005/contexter/internal/agent/sources"
	"github.com/dmitrijs2005/contexter/internal/agent/sources/imagesrc"
	"github.com/dmitrijs2005/contexter/internal/agent/sources/jsonsrc"
	"github.com/dmitrijs2005/contexter/internal/agent/sources/sqlitesrc"
	"github.com/dmitrijs2005/contexter/internal/agent/store"
	"github.com/dmitrijs2005/contexter/internal/agent/syncjob"
	"github.com/dmitrijs2005/contexter/internal/agent/transform"
	"github.com/dmitrijs2005/contexter/internal/agent/upload"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/cryptox"
	"github.com/dmitrijs2005/contexter/internal/filex"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/logging"
)

// ErrNotRegistered is returned by commands that need device credentials.
var ErrNotRegistered = errors.New("device not registered, run the register command first")

const (
	requestLogRetention = 7 * 24 * time.Hour
	maintenanceInterval = time.Hour
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	logCloser io.Closer
	store     *store.Store
	client    *http.Client

	registry *scheduler.Registry
	engines  map[string]*backfill.Engine
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	dir, err := filex.EnsureDir(c.DataDir)
	if err != nil {
		return nil, err
	}
	c.DataDir = dir

	logger, closer := logging.New(c.LogLevel, logging.FileOptions{
		Path:       c.LogPath(),
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	})

	st, err := store.Open(ctx, c.StorePath())
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	return &App{
		config:    c,
		logger:    logger,
		logCloser: closer,
		store:     st,
		client:    &http.Client{Timeout: 60 * time.Second},
		registry:  scheduler.NewRegistry(),
		engines:   make(map[string]*backfill.Engine),
	}, nil
}

func (app *App) Close() error {
	return errors.Join(app.store.Close(), app.logCloser.Close())
}

// wire builds a job, a scheduler service and, for database-backed
// sources, a backfill engine for every enabled source.
func (app *App) wire(ctx context.Context) error {
	id, secret, err := app.store.Credentials(ctx)
	if err != nil {
		return err
	}
	if id == "" || secret == "" {
		return ErrNotRegistered
	}

	up := upload.New(app.config.ServerURL, upload.Credentials{DeviceID: id, Secret: secret},
		upload.WithChunkSize(app.config.ChunkSize),
		upload.WithChunkBytes(app.config.ChunkBytes),
		upload.WithHTTPClient(app.client),
		upload.WithRecorder(app.store.Requests),
		upload.WithLogger(app.logger),
	)

	for _, k := range kinds.All() {
		sc, ok := app.config.Sources[k.Name]
		if !ok || !sc.Enabled {
			continue
		}
		opts := sources.FetchOptions{IncludeAttachments: sc.IncludeAttachments}

		collector, opener, err := app.collector(k, sc)
		if err != nil {
			return err
		}

		job := syncjob.New(k, collector, app.store, up,
			syncjob.WithFetchOptions(opts),
			syncjob.WithLogger(app.logger),
		)

		state, err := app.store.SyncState.Get(ctx, k.Name)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		app.registry.Add(scheduler.New(k.Name, sc.Interval, job.Run,
			scheduler.WithLogger(app.logger),
			scheduler.WithInitialState(state),
			scheduler.WithStateHook(app.saveState),
		))

		if opener != nil {
			path, err := filex.ExpandHome(sc.Path)
			if err != nil {
				return err
			}
			app.engines[k.Name] = backfill.NewEngine(k.Name,
				sqlitesrc.BackfillOpener(opener, path, opts, app.logger),
				job.SendBatch,
				backfill.WithBatchSize(app.config.BackfillBatchSize),
				backfill.WithLogger(app.logger),
				backfill.WithProgressHook(app.logProgress(k.Name)),
			)
		}
	}

	app.registry.Add(scheduler.New("maintenance", maintenanceInterval, app.pruneRequestLogs,
		scheduler.WithLogger(app.logger)))
	return nil
}

// collector returns the collector of k and, for SQLite-backed kinds, the
// opener used by backfill.
func (app *App) collector(k kinds.Kind, sc config.Source) (sources.Collector, sqlitesrc.Opener, error) {
	var open sqlitesrc.Opener
	switch k.Name {
	case kinds.Message:
		open = sqlitesrc.OpenIMessage
	case kinds.WhatsAppMessage:
		open = sqlitesrc.OpenWhatsApp
	case kinds.Screenshot:
		dir, err := filex.ExpandHome(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return imagesrc.New(dir, app.logger), nil, nil
	default:
		dir, err := filex.ExpandHome(app.config.ExportDir)
		if err != nil {
			return nil, nil, err
		}
		return jsonsrc.New(dir, k), nil, nil
	}

	path, err := filex.ExpandHome(sc.Path)
	if err != nil {
		return nil, nil, err
	}
	return sqlitesrc.Collector{Path: path, Open: open, Log: app.logger}, open, nil
}

func (app *App) saveState(st models.SyncState) {
	ctx := context.Background()
	if err := app.store.SyncState.Save(ctx, st); err != nil {
		app.logger.Warn(ctx, "failed to save sync state", "source", st.Source, "error", err)
	}
}

func (app *App) pruneRequestLogs(ctx context.Context) error {
	n, err := app.store.Requests.Prune(ctx, time.Now().Add(-requestLogRetention))
	if err != nil {
		return err
	}
	app.logger.Debug(ctx, "pruned request logs", "deleted", n)
	return nil
}

func (app *App) logProgress(name string) func(backfill.Progress) {
	return func(p backfill.Progress) {
		app.logger.Info(context.Background(), "backfill progress", "source", name,
			"status", p.Status, "phase", p.Phase, "current", p.Current, "total", p.Total)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts every enabled source and blocks until a signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	if err := app.wire(ctx); err != nil {
		return err
	}
	app.logger.Info(ctx, "starting agent", "server", app.config.ServerURL, "sources", app.registry.Names())

	app.initSignalHandler(cancelFunc)
	app.registry.StartAll(ctx)

	<-ctx.Done()
	app.logger.Info(context.Background(), "shutting down")
	app.registry.StopAll()
	return nil
}

// Backfill re-uploads the last days of a database-backed source. A
// signal cancels the run between batches.
func (app *App) Backfill(ctx context.Context, source string, days int) (backfill.Progress, error) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	if err := app.wire(ctx); err != nil {
		return backfill.Progress{}, err
	}
	e, ok := app.engines[source]
	if !ok {
		return backfill.Progress{}, fmt.Errorf("source %q is not enabled or does not support backfill", source)
	}

	app.initSignalHandler(cancelFunc)
	err := e.Run(ctx, days)
	return e.Progress(), err
}

// Register obtains device credentials from the server and stores them.
func (app *App) Register(ctx context.Context, adminToken, name string) (string, error) {
	if name == "" {
		host, _ := os.Hostname()
		name = host
	}
	creds, err := upload.RegisterDevice(ctx, app.client, app.config.ServerURL, adminToken, name)
	if err != nil {
		return "", err
	}
	if err := app.store.SetCredentials(ctx, creds.DeviceID, creds.Secret); err != nil {
		return "", err
	}
	app.logger.Info(ctx, "device registered", "device_id", creds.DeviceID)
	return creds.DeviceID, nil
}

// SetKey derives the encryption secret from a passphrase and stores it. A
// non-empty salt replaces the stored one; otherwise the stored or default
// salt is used. It returns a short fingerprint that is the same on every
// machine using the same passphrase and salt.
func (app *App) SetKey(ctx context.Context, passphrase, salt []byte) (string, error) {
	if len(passphrase) == 0 {
		return "", cryptox.ErrNoKey
	}
	if len(salt) > 0 {
		if err := app.store.SetKeySalt(ctx, salt); err != nil {
			return "", err
		}
	}
	salt, err := app.store.KeySalt(ctx)
	if err != nil {
		return "", err
	}

	master := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(master)
	defer common.WipeByteArray(passphrase)
	if err := app.store.SetEncryptionSecret(ctx, hex.EncodeToString(master)); err != nil {
		return "", err
	}
	return hex.EncodeToString(cryptox.MakeVerifier(master))[:16], nil
}

// IndexToken returns the read API query parameter and the token that match
// records of kind whose field normalizes like value.
func (app *App) IndexToken(ctx context.Context, kind, field, value string) (param, token string, err error) {
	k, err := kinds.Get(kind)
	if err != nil {
		return "", "", err
	}
	spec, ok := k.IndexSpec(field)
	if !ok {
		return "", "", fmt.Errorf("%w: %s has no search index on %q", common.ErrorValidation, k.Name, field)
	}

	keys, err := app.store.Keys(ctx)
	if errors.Is(err, cryptox.ErrNoKey) {
		return "", "", common.ErrNoEncryptionKey
	}
	if err != nil {
		return "", "", err
	}
	defer keys.Wipe()

	token = transform.IndexToken(value, spec, keys)
	if token == "" {
		return "", "", fmt.Errorf("%w: %q has nothing to index", common.ErrorValidation, value)
	}
	return spec.IndexField(), token, nil
}

// Status writes registration, key, checkpoint and recent request state.
func (app *App) Status(ctx context.Context, w io.Writer) error {
	id, _, err := app.store.Credentials(ctx)
	if err != nil {
		return err
	}
	_, keyErr := app.store.Keys(ctx)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "server\t%s\n", app.config.ServerURL)
	fmt.Fprintf(tw, "device\t%s\n", orDash(id))
	fmt.Fprintf(tw, "encryption key\t%v\n", keyErr == nil)

	cps, err := app.store.Checkpoints(ctx)
	if err != nil {
		app.logger.Warn(ctx, "unreadable checkpoints", "error", err)
	}
	states, err := app.store.SyncState.List(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]models.SyncState, len(states))
	for _, s := range states {
		byName[s.Source] = s
	}

	fmt.Fprintln(tw, "\nSOURCE\tENABLED\tCHECKPOINT\tLAST RUN\tSTATUS\tERROR")
	for _, k := range kinds.All() {
		sc := app.config.Sources[k.Name]
		st := byName[k.Name]
		cp := "-"
		if t, ok := cps[k.Name]; ok {
			cp = t.Local().Format(time.DateTime)
		}
		last := "-"
		if !st.LastRunAt.IsZero() {
			last = st.LastRunAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%s\t%s\t%s\n", k.Name, sc.Enabled, cp, last, orDash(st.LastStatus), orDash(st.LastError))
	}

	logs, err := app.store.Requests.Recent(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "\nTIME\tPATH\tSTATUS\tCODE\tITEMS\tDURATION")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", l.Timestamp.Local().Format(time.DateTime), l.Path,
			l.Status, l.StatusCode, l.Items, l.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
