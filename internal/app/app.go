// Package app initializes and holds the long-lived services of a crawl
// session, acting as the dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/api"
	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/clock/system"
	"github.com/bling0390/vivbliss/internal/config"
	"github.com/bling0390/vivbliss/internal/dispatcher"
	"github.com/bling0390/vivbliss/internal/extract"
	"github.com/bling0390/vivbliss/internal/fetcher"
	collyimpl "github.com/bling0390/vivbliss/internal/fetcher/colly"
	"github.com/bling0390/vivbliss/internal/fetcher/headless"
	"github.com/bling0390/vivbliss/internal/hash/sha256"
	"github.com/bling0390/vivbliss/internal/id/uuid"
	"github.com/bling0390/vivbliss/internal/logging"
	"github.com/bling0390/vivbliss/internal/metrics"
	"github.com/bling0390/vivbliss/internal/progress"
	"github.com/bling0390/vivbliss/internal/progress/sinks"
	memorypub "github.com/bling0390/vivbliss/internal/publisher/memory"
	pubsubpub "github.com/bling0390/vivbliss/internal/publisher/pubsub"
	"github.com/bling0390/vivbliss/internal/schedule"
	"github.com/bling0390/vivbliss/internal/storage/gcs"
	"github.com/bling0390/vivbliss/internal/storage/local"
	memorystore "github.com/bling0390/vivbliss/internal/storage/memory"
	"github.com/bling0390/vivbliss/internal/storage/postgres"
	"github.com/bling0390/vivbliss/internal/worker"
)

// App holds the shared, long-lived services of one crawl session. It is
// initialized once at startup; there are no package-level singletons.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Scheduler *schedule.Scheduler
	Store     catalog.CatalogStore
	Blobs     catalog.BlobStore
	Publisher catalog.Publisher
	Fetcher   catalog.Fetcher
	Hub       *progress.Hub
	Server    *api.Server
	SessionID string

	clock   catalog.Clock
	closers []func() error
}

// New builds the full service graph from configuration. It fails fast when
// any critical provider cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	clock := system.New()

	sessionID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	registry := schedule.NewRegistry(clock, logger)
	queue := schedule.NewWorkQueue(logger)
	scheduler := schedule.NewScheduler(registry, queue, logger)
	if !cfg.Scheduler.PriorityEnabled {
		scheduler.Disable()
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Scheduler: scheduler,
		SessionID: sessionID,
		clock:     clock,
	}

	if err := a.initStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initBlobs(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initFetcher(cfg, clock); err != nil {
		return nil, err
	}
	a.initProgress()

	scheduler.SetDirectoryActivatedFunc(func(path string) {
		metrics.ObserveDirectory("active")
		prog, _ := scheduler.Progress(path)
		a.Hub.Emit(progress.Event{
			SessionID: sessionID,
			TS:        clock.Now(),
			Stage:     progress.StageDirectoryActive,
			Directory: path,
			Level:     prog.Level,
		})
	})

	scheduler.SetDirectoryCompletedFunc(func(path string) {
		metrics.ObserveDirectory("completed")
		prog, _ := scheduler.Progress(path)
		a.Hub.Emit(progress.Event{
			SessionID:      sessionID,
			TS:             clock.Now(),
			Stage:          progress.StageDirectoryCompleted,
			Directory:      path,
			Level:          prog.Level,
			CompletionRate: prog.CompletionRate,
		})
		if a.Publisher != nil && cfg.PubSub.TopicName != "" {
			if _, err := a.Publisher.Publish(context.Background(), cfg.PubSub.TopicName, map[string]any{
				"event":     "directory_completed",
				"directory": path,
				"total":     prog.Total,
				"failed":    prog.Failed,
			}); err != nil {
				logger.Warn("publish directory completion failed",
					zap.String("path", path),
					zap.Error(err))
			}
		}
		logger.Info("directory completed",
			zap.String("path", path),
			zap.Int("total", prog.Total),
			zap.Int("failed", prog.Failed))
	})

	a.Server = api.NewServer(scheduler, logger)

	a.closers = append(a.closers, func() error {
		return a.Hub.Close(context.Background())
	})

	logger.Info("application services initialized",
		zap.String("session_id", sessionID),
		zap.String("db_provider", cfg.DB.Provider),
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.String("pubsub_provider", cfg.PubSub.Provider))
	return a, nil
}

func (a *App) initStore(ctx context.Context, cfg config.Config) error {
	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgres.NewCatalogStore(ctx, postgres.CatalogStoreConfig{
			DSN:             cfg.DB.DSN,
			CategoriesTable: cfg.DB.CategoriesTable,
			ProductsTable:   cfg.DB.ProductsTable,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	case "memory":
		a.Store = memorystore.NewCatalogStore()
	default:
		return fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}
	return nil
}

func (a *App) initBlobs(ctx context.Context, cfg config.Config) error {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.Blobs = blobs
		a.closers = append(a.closers, client.Close)
	case "local":
		blobs, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.Blobs = blobs
	case "memory":
		a.Blobs = memorystore.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	switch cfg.PubSub.Provider {
	case "pubsub":
		pub, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, a.Logger)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
	case "memory":
		a.Publisher = memorypub.New()
	default:
		return fmt.Errorf("unknown pubsub provider: %s", cfg.PubSub.Provider)
	}
	return nil
}

func (a *App) initFetcher(cfg config.Config, clock catalog.Clock) error {
	primary, err := collyimpl.New(cfg, clock, a.Logger)
	if err != nil {
		return fmt.Errorf("init colly fetcher: %w", err)
	}

	var rendered catalog.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headless.New(cfg, clock, a.Logger)
		switch {
		case err == nil:
			rendered = hf
			a.closers = append(a.closers, hf.Close)
		case errors.Is(err, headless.ErrDisabled):
			a.Logger.Warn("headless disabled despite config flag")
		default:
			return fmt.Errorf("init headless fetcher: %w", err)
		}
	}

	a.Fetcher = fetcher.NewFallback(primary, rendered, cfg.Headless.MinHTMLBytes, a.Logger)
	return nil
}

func (a *App) initProgress() {
	hubSinks := []progress.Sink{sinks.NewLogSink(a.Logger)}
	if prom, err := sinks.NewPrometheusSink(nil); err == nil {
		hubSinks = append(hubSinks, prom)
	} else {
		a.Logger.Warn("progress prometheus sink unavailable", zap.Error(err))
	}
	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger}, hubSinks...)
}

// Run seeds the crawl from the configured start URL, serves the HTTP API,
// and blocks until the crawl drains or ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config

	startURL, err := catalog.NormalizeURL(cfg.Crawler.StartURL)
	if err != nil {
		return fmt.Errorf("normalize start url: %w", err)
	}

	a.Hub.Emit(progress.Event{
		SessionID: a.SessionID,
		TS:        a.clock.Now(),
		Stage:     progress.StageSessionStart,
	})
	started := a.clock.Now()

	a.seed(startURL)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("http server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("http server shutdown", zap.Error(err))
		}
	}()

	opts := worker.Options{
		SessionID:    a.SessionID,
		Scheduler:    a.Scheduler,
		Fetcher:      a.Fetcher,
		Store:        a.Store,
		Blobs:        a.Blobs,
		Publisher:    a.Publisher,
		Progress:     a.Hub,
		Hasher:       sha256.New(),
		Clock:        a.clock,
		Logger:       a.Logger,
		Topic:        cfg.PubSub.TopicName,
		ContentType:  cfg.Storage.ContentType,
		PollInterval: cfg.PollInterval(),
		MaxDepth:     cfg.Crawler.MaxDepth,
	}
	d := dispatcher.New(dispatcher.Config{
		Concurrency:  cfg.Crawler.Concurrency,
		IdleShutdown: cfg.IdleShutdown(),
	}, opts, a.Scheduler, a.clock, a.Logger)

	runErr := d.Run(ctx)

	a.Hub.Emit(progress.Event{
		SessionID: a.SessionID,
		TS:        a.clock.Now(),
		Stage:     progress.StageSessionDone,
		Dur:       a.clock.Now().Sub(started),
	})
	return runErr
}

func (a *App) seed(startURL string) {
	path, level, parent, err := extract.DirectoryPath(startURL)
	if err != nil {
		a.Logger.Error("derive start directory", zap.Error(err))
		return
	}
	a.Scheduler.DiscoverDirectory(path, level, parent)
	fp, err := sha256.New().Hash([]byte(startURL))
	if err != nil {
		a.Logger.Error("fingerprint start url", zap.Error(err))
		return
	}
	a.Scheduler.AddCategoryWork(fp, catalog.CategoryPage{
		URL:        startURL,
		Path:       path,
		Level:      level,
		ParentPath: parent,
	})
	a.Logger.Info("seeded crawl", zap.String("start_url", startURL))
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close service failed", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
