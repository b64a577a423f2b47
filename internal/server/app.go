// Package server assembles the upload engine: database and migrations, the
// object store, the transfer executor, notifications and the gRPC endpoint.
// It resumes unfinished tasks at startup and stops them resumably on signal.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/fingerprint"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/dmitrijs2005/gophupload/internal/netx"
	"github.com/dmitrijs2005/gophupload/internal/server/config"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/manifest"
	"github.com/dmitrijs2005/gophupload/internal/server/notify"
	"github.com/dmitrijs2005/gophupload/internal/server/objectstore"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophupload/internal/server/services"
	"github.com/dmitrijs2005/gophupload/internal/server/source"
	"github.com/dmitrijs2005/gophupload/internal/server/transfer"

	gs "github.com/dmitrijs2005/gophupload/internal/server/grpc"
)

// Seams for tests.
var (
	openDB        = repomanager.OpenDB
	newS3Store    = func(ctx context.Context, c objectstore.S3Config) (objectstore.Store, error) { return objectstore.NewS3Store(ctx, c) }
	newMinioStore = func(c objectstore.S3Config) (objectstore.Store, error) { return objectstore.NewMinioStore(c) }
)

const shutdownTimeout = 30 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	uploads *services.UploadService
	sink    *notify.AsyncSink
	closers []io.Closer
}

// NewApp connects to the database, applies migrations and builds the upload
// service. Nothing is started until Run.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	if err := app.build(ctx, repos); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) build(ctx context.Context, repos repomanager.RepositoryManager) error {
	c := app.config

	hasher, err := fingerprint.New(fingerprint.Algorithm(c.FingerprintAlgorithm))
	if err != nil {
		return err
	}

	store, err := buildStore(ctx, c)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	sink, closer, err := buildSink(ctx, c, app.logger)
	if err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	app.sink = notify.NewAsyncSink(sink, c.NotifyBuffer, app.logger)

	journal := transfer.NewRepositoryJournal(repos.TaskFiles(app.db), repos.Chunks(app.db))
	executor := transfer.NewExecutor(store, journal, hasher, transfer.Config{
		ChunkThreshold:    c.ChunkThreshold,
		ChunkSize:         c.ChunkSize,
		MaxInFlightChunks: c.MaxInFlightChunks,
		OpTimeout:         c.OpTimeout,
	}, app.logger)

	retry := filestate.DefaultRetryPolicy()
	retry.MaxAttempts = c.RetryMaxAttempts
	retry.BaseDelay = c.RetryBaseDelay
	retry.MaxDelay = c.RetryMaxDelay

	app.uploads = services.NewUploadService(services.UploadDeps{
		DB:       app.db,
		Repos:    repos,
		Codec:    manifest.NewCodec(hasher, c.InlineHashThreshold, c.MaxManifestFiles),
		Executor: executor,
		Store:    store,
		Source:   source.NewFS(c.SourceRoot),
		Sink:     app.sink,
		Fetcher:  netx.NewDownloader(&http.Client{Timeout: c.OpTimeout}, 0),
		Logger:   app.logger,
	}, services.UploadOptions{
		MaxConcurrentFiles: c.MaxConcurrentFiles,
		Retry:              retry,
		TaskRetryBudget:    c.TaskRetryBudget,
		CancelPolicy:       services.CancelPolicy(c.CancelPolicy),
		PublicBaseURL:      c.PublicBaseURL,
		DefaultLinkTTL:     c.SignedURLTTL,
	})
	return nil
}

// buildStore selects the object store implementation named by the config.
func buildStore(ctx context.Context, c *config.Config) (objectstore.Store, error) {
	sc := objectstore.S3Config{
		Region:    c.S3Region,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Bucket:    c.S3Bucket,
		Endpoint:  c.S3BaseEndpoint,
	}
	switch c.StorageBackend {
	case "", "s3":
		return newS3Store(ctx, sc)
	case "minio":
		return newMinioStore(sc)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

// buildSink returns the event sink named by the config and, for networked
// sinks, the closer that releases its connection.
func buildSink(ctx context.Context, c *config.Config, logger logging.Logger) (notify.Sink, io.Closer, error) {
	switch c.NotifyBackend {
	case "", "none":
		return notify.NopSink{}, nil, nil
	case "redis":
		s, err := notify.NewRedisSink(ctx, c.RedisURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "kafka":
		var brokers []string
		for _, b := range strings.Split(c.KafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		if len(brokers) == 0 {
			return nil, nil, errors.New("no kafka brokers configured")
		}
		s := notify.NewKafkaSink(brokers, c.KafkaTopic, logger)
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify backend %q", c.NotifyBackend)
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

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.uploads, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run resumes unfinished tasks, serves gRPC until ctx ends or a signal
// arrives, then stops running tasks resumably and releases resources.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if _, err := app.uploads.ResumeActive(ctx); err != nil {
		app.logger.Error(ctx, "resume tasks", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.logger.Info(ctx, "Stopping app...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := app.uploads.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "upload workers did not stop in time", "error", err)
	}
	app.close()
}

func (app *App) close() {
	if app.sink != nil {
		app.sink.Close()
	}
	for _, c := range app.closers {
		_ = c.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
