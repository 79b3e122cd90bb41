// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/adapter"
	"github.com/JakeFAU/igo-publications-crawler/internal/api"
	"github.com/JakeFAU/igo-publications-crawler/internal/clock/system"
	"github.com/JakeFAU/igo-publications-crawler/internal/config"
	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/dedup"
	"github.com/JakeFAU/igo-publications-crawler/internal/download"
	collyfetcher "github.com/JakeFAU/igo-publications-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/igo-publications-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/igo-publications-crawler/internal/hash/sha256"
	"github.com/JakeFAU/igo-publications-crawler/internal/headless/detector"
	"github.com/JakeFAU/igo-publications-crawler/internal/id/uuid"
	"github.com/JakeFAU/igo-publications-crawler/internal/metrics"
	"github.com/JakeFAU/igo-publications-crawler/internal/pipeline"
	"github.com/JakeFAU/igo-publications-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
	"github.com/JakeFAU/igo-publications-crawler/internal/progress/sinks"
	"github.com/JakeFAU/igo-publications-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/igo-publications-crawler/internal/retrieval"
	"github.com/JakeFAU/igo-publications-crawler/internal/session"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/gcs"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/local"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/memory"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/postgres"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/sqlite"
)

const (
	hubCloseTimeout = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Store is the relational store plus a readiness probe.
type Store interface {
	crawler.Store
	Ping(ctx context.Context) error
}

// RunOptions tune a single session.
type RunOptions struct {
	// Only restricts the run to adapters with these names ("WHO-Africa").
	Only []string
	// Console renders progress bars to ConsoleOut.
	Console    bool
	ConsoleOut io.Writer
}

// App holds the shared, long-lived services. It is built once at startup and
// closed by the root command.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     Store
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	retriever *retrieval.Retriever
	renderer  headless.Renderer
	clock     crawler.Clock
	ids       crawler.IDGenerator
	hasher    crawler.Hasher
	tracker   *progress.Tracker
	promSink  progress.Sink

	closers []func() error
}

// Option customizes NewApp, mostly for tests.
type Option func(*App)

// WithStore injects an already opened store.
func WithStore(s Store) Option {
	return func(a *App) { a.store = s }
}

// WithBlobStore injects the payload backend.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(a *App) { a.blobs = b }
}

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// NewApp creates every service named by cfg. It fails fast when a critical
// service cannot be initialized and releases whatever was already opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		ids:     uuid.New(),
		hasher:  sha256.New(),
		tracker: progress.NewTracker(),
	}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	metrics.Init()
	logger.Info("initializing application services")

	if a.store == nil {
		if a.store, err = a.openStore(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.store.Close)
	}
	if a.blobs == nil {
		if a.blobs, err = a.openBlobStore(ctx); err != nil {
			return nil, err
		}
	}
	if a.publisher, err = a.openPublisher(ctx); err != nil {
		return nil, err
	}
	a.retriever = a.newRetriever()
	a.renderer = a.newRenderer()

	if promSink, perr := sinks.NewPrometheusSink(nil); perr != nil {
		logger.Warn("progress metrics disabled", zap.Error(perr))
	} else {
		a.promSink = promSink
	}

	logger.Info("application services initialized",
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Provider),
		zap.Bool("pubsub", a.publisher != nil),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	switch a.cfg.Database.Driver {
	case "postgres":
		a.logger.Info("connecting to postgres")
		s, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      a.cfg.Database.DSN,
			MaxConns: int32(a.cfg.Database.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	default:
		a.logger.Info("opening sqlite store", zap.String("path", a.cfg.Database.Path))
		s, err := sqlite.Open(ctx, a.cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, nil
	}
}

func (a *App) openBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using gcs storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		s, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return s, nil
	case "memory":
		a.logger.Warn("using in-memory storage, payloads are discarded on exit")
		return memory.NewBlobStore(), nil
	default:
		s, err := local.New(local.Config{BaseDir: a.cfg.Storage.DownloadDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return s, nil
	}
}

// openPublisher returns nil when no topic is configured.
func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.Topic == "" {
		return nil, nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsub.New(client.Topic(a.cfg.PubSub.Topic))
	a.closers = append(a.closers, client.Close, func() error {
		pub.Stop()
		return nil
	})
	a.logger.Info("publishing download events", zap.String("topic", a.cfg.PubSub.Topic))
	return pub, nil
}

func (a *App) newRetriever() *retrieval.Retriever {
	fetchCfg := collyfetcher.Config{
		UserAgent:    a.cfg.Download.UserAgent,
		Timeout:      a.cfg.HTTPTimeout(),
		MaxBodyBytes: a.cfg.Download.MaxBodyBytes,
	}
	insecureCfg := fetchCfg
	insecureCfg.SkipTLSVerify = true
	insecure := collyfetcher.New(insecureCfg)

	var secure crawler.Fetcher = insecure
	if a.cfg.HTTP.VerifyTLS {
		secure = collyfetcher.New(fetchCfg)
	}
	return retrieval.New(retrieval.Config{
		Timeout:        a.cfg.HTTPTimeout(),
		MaxAttempts:    a.cfg.HTTP.MaxAttempts,
		MaxWait:        a.cfg.MaxWait(),
		DefaultHeaders: a.cfg.DefaultHeaders(),
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: a.cfg.HTTP.RequestsPerSecondPerHost,
			Burst:             a.cfg.HTTP.BurstPerHost,
		}),
	}, secure, insecure, crawler.TimerPauser{}, a.logger.Named("retrieval"))
}

func (a *App) newRenderer() headless.Renderer {
	if !a.cfg.Headless.Enabled {
		return headless.NewNoop()
	}
	r, err := headless.NewChromedp(headless.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Download.UserAgent,
		NavigationTimeout: a.cfg.NavTimeout(),
	})
	if err != nil {
		a.logger.Warn("headless renderer init failed, headless adapters will fail", zap.Error(err))
		return headless.NewNoop()
	}
	a.closers = append(a.closers, func() error {
		r.Close()
		return nil
	})
	return r
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Store returns the relational store.
func (a *App) Store() Store {
	return a.store
}

// Tracker returns the live progress of the current session.
func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

// Adapters builds the active adapters, optionally restricted to names.
func (a *App) Adapters(only ...string) ([]crawler.Adapter, error) {
	deps := adapter.Deps{
		Pages:     a.retriever,
		Renderer:  a.renderer,
		Languages: a.cfg.Languages,
		Logger:    a.logger.Named("adapter"),
	}
	if a.cfg.Headless.Enabled && a.cfg.Headless.PromoteListings {
		deps.Promoter = detector.NewHeuristic(a.cfg.Headless.PromotionThreshold)
	}
	adapters, err := adapter.NewRegistry().Build(a.cfg.Adapters, deps)
	if err != nil {
		return nil, err
	}
	if len(only) == 0 {
		return adapters, nil
	}
	var out []crawler.Adapter
	for _, ad := range adapters {
		if slices.Contains(only, ad.Name()) {
			out = append(out, ad)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no active adapter matches %v", only)
	}
	return out, nil
}

// RunSession executes one crawl session over the active adapters and records
// it in the sessions table.
func (a *App) RunSession(ctx context.Context, opts RunOptions) (pipeline.Summary, error) {
	adapters, err := a.Adapters(opts.Only...)
	if err != nil {
		return pipeline.Summary{}, err
	}
	sess, err := session.Start(ctx, a.store, a.clock, a.ids, a.logger)
	if err != nil {
		return pipeline.Summary{}, err
	}
	logger := sess.Logger()

	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, a.progressSinks(logger, opts)...)

	cfg := a.cfg
	downloader := download.NewDownloader(download.Config{
		FileTypes:   cfg.Download.FileTypes,
		UserAgent:   cfg.Download.UserAgent,
		ValidatePDF: cfg.Download.ValidatePDF,
		RunID:       sess.RunID,
	}, a.retriever, a.blobs, a.store, a.publisher, a.hasher, a.clock, logger.Named("download"))

	runner := pipeline.NewRunner(pipeline.Config{
		URLChunkSize:      cfg.Pipeline.MaxPublicationURLsChunkSize,
		DocumentChunkSize: cfg.Pipeline.MaxDocumentLinksChunkSize,
	}, pipeline.Deps{
		Store: a.store,
		Filter: dedup.New(a.store, dedup.Config{
			ChunkSize:                  cfg.Pipeline.MaxDocumentLinksChunkSize,
			DownloadEvenIfExist:        cfg.Download.DownloadEvenIfExist,
			RetryDownloadInNextSession: cfg.Download.RetryDownloadInNextSession,
		}, logger),
		Workers: func(org string) download.Worker { return downloader.ForOrganization(org) },
		Engine: download.EngineConfig{
			Parallel:      cfg.Download.Parallel,
			MaxConcurrent: cfg.Download.MaxConcurrent,
		},
		Emitter:   hub,
		Clock:     a.clock,
		Languages: cfg.Languages,
		Logger:    logger.Named("pipeline"),
		SessionID: sess.ID,
		RunID:     sess.RunID,
	})
	sum, runErr := pipeline.NewDriver(a.store, runner, cfg.Pipeline.StopOnFailure).Run(ctx, adapters)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := sess.Finish(closeCtx); err != nil {
		return sum, errors.Join(runErr, err)
	}
	return sum, runErr
}

func (a *App) progressSinks(logger *zap.Logger, opts RunOptions) []progress.Sink {
	out := []progress.Sink{a.tracker, sinks.NewLogSink(logger.Named("progress"))}
	if a.promSink != nil {
		out = append(out, a.promSink)
	}
	if opts.Console && opts.ConsoleOut != nil {
		out = append(out, sinks.NewConsoleSink(opts.ConsoleOut))
	}
	return out
}

// StatusHandler returns the status server routes.
func (a *App) StatusHandler() http.Handler {
	progressHandler := api.NewProgressHandler(a.tracker, a.store, a.logger.Named("api"))
	return api.NewServer(progressHandler, a.store, a.logger.Named("api")).Handler()
}

// ServeStatus runs the status server until ctx is done. It is a no-op
// returning nil when server.enabled is false.
func (a *App) ServeStatus(ctx context.Context) error {
	if !a.cfg.Server.Enabled {
		return nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.StatusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

// Close releases services in reverse order of creation and flushes the logger.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
		return err
	}
	return nil
}
