// Package app builds and runs the crawl service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/api"
	"github.com/renderbot/crawlserve/internal/clock/system"
	"github.com/renderbot/crawlserve/internal/config"
	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/extract"
	"github.com/renderbot/crawlserve/internal/id/uuid"
	"github.com/renderbot/crawlserve/internal/logging"
	"github.com/renderbot/crawlserve/internal/metrics"
	memorypublisher "github.com/renderbot/crawlserve/internal/publisher/memory"
	gcppublisher "github.com/renderbot/crawlserve/internal/publisher/pubsub"
	queuememory "github.com/renderbot/crawlserve/internal/queue/memory"
	autorenderer "github.com/renderbot/crawlserve/internal/renderer/auto"
	headlessrenderer "github.com/renderbot/crawlserve/internal/renderer/chromedp"
	collyrenderer "github.com/renderbot/crawlserve/internal/renderer/colly"
	"github.com/renderbot/crawlserve/internal/renderer/detector"
	"github.com/renderbot/crawlserve/internal/scheduler"
	gcsstorage "github.com/renderbot/crawlserve/internal/storage/gcs"
	localstorage "github.com/renderbot/crawlserve/internal/storage/local"
	memorystorage "github.com/renderbot/crawlserve/internal/storage/memory"
	storememory "github.com/renderbot/crawlserve/internal/store/memory"
	pgstore "github.com/renderbot/crawlserve/internal/store/postgres"
)

// App contains the service's wired dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	sched     *scheduler.Scheduler
	queue     *queuememory.Queue

	renderer      crawler.Renderer
	rendererClose func()

	pubsubClient *gcppubsub.Client
	publisher    *gcppublisher.Publisher
	gcsClient    *storage.Client
	archive      *pgstore.ResultArchive
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
	}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	renderer, err := NewRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.renderer = renderer
	if closer, ok := renderer.(interface{ Close() }); ok {
		app.rendererClose = closer.Close
	}

	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	if err := app.setupArchive(ctx); err != nil {
		return nil, err
	}

	app.queue = queuememory.NewQueue(cfg.Scheduler.QueueDepth)

	opts := []scheduler.Option{scheduler.WithPublisher(publisher)}
	if blobStore != nil {
		opts = append(opts, scheduler.WithBlobStore(blobStore))
	}
	if app.archive != nil {
		opts = append(opts, scheduler.WithArchive(app.archive))
	}

	app.sched = scheduler.New(
		scheduler.Config{
			MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
			SnapshotPrefix:     cfg.Storage.Prefix,
			Topic:              cfg.PubSub.TopicName,
		},
		app.queue,
		storememory.NewTaskStore(),
		renderer,
		extract.NewPipeline(),
		system.New(),
		uuid.New(),
		logger.Named("scheduler"),
		opts...,
	)

	app.apiServer = api.NewServer(app.sched, api.Config{
		Token: cfg.Auth.Token,
	}, logger.Named("api"))

	return app, nil
}

// Logger exposes the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the worker pool and HTTP server and blocks until the context is
// canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("scheduler started",
			zap.Int("max_concurrent_tasks", a.cfg.Scheduler.MaxConcurrentTasks),
		)
		a.sched.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	a.queue.Close()
	if a.rendererClose != nil {
		a.rendererClose()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.archive != nil {
		a.archive.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// NewRenderer builds the configured page renderer.
func NewRenderer(cfg *config.Config, logger *zap.Logger) (crawler.Renderer, error) {
	switch cfg.Renderer.Engine {
	case "colly":
		logger.Info("using colly renderer", zap.String("user_agent", cfg.Renderer.UserAgent))
		return collyrenderer.New(collyrenderer.Config{
			UserAgent: cfg.Renderer.UserAgent,
			Timeout:   cfg.NavTimeout(),
		}), nil
	case "auto":
		logger.Info("using auto renderer", zap.String("user_agent", cfg.Renderer.UserAgent))
		fast := collyrenderer.New(collyrenderer.Config{
			UserAgent: cfg.Renderer.UserAgent,
			Timeout:   cfg.NavTimeout(),
		})
		full, err := headlessrenderer.New(headlessrenderer.Config{
			MaxParallel:       cfg.Renderer.MaxParallel,
			UserAgent:         cfg.Renderer.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			DomainQPS:         cfg.Renderer.DomainQPS,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		return autorenderer.New(fast, full, detector.NewHeuristic(0), logger.Named("auto")), nil
	default:
		logger.Info("using headless renderer",
			zap.Int("max_parallel", cfg.Renderer.MaxParallel),
			zap.Float64("domain_qps", cfg.Renderer.DomainQPS),
		)
		renderer, err := headlessrenderer.New(headlessrenderer.Config{
			MaxParallel:       cfg.Renderer.MaxParallel,
			UserAgent:         cfg.Renderer.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			DomainQPS:         cfg.Renderer.DomainQPS,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		return renderer, nil
	}
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		var err error
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		blobStore, err := localstorage.New(localstorage.Config{
			BaseDir: a.cfg.Storage.LocalDir,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	case "memory":
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("page snapshots disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = gcppubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

func (a *App) setupArchive(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database configured, result archiving disabled")
		return nil
	}
	archive, err := pgstore.NewResultArchive(ctx, pgstore.ResultArchiveConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(a.cfg.DB.MaxConns),
	})
	if err != nil {
		return fmt.Errorf("result archive init failed: %w", err)
	}
	a.archive = archive
	a.logger.Info("result archive initialized")
	return nil
}
