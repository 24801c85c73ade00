// Package server builds the application's dependencies and runs the service.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/aggregator"
	"github.com/JakeFAU/rule-aggregator/internal/api"
	"github.com/JakeFAU/rule-aggregator/internal/clock/system"
	"github.com/JakeFAU/rule-aggregator/internal/config"
	collyfetcher "github.com/JakeFAU/rule-aggregator/internal/fetcher/colly"
	"github.com/JakeFAU/rule-aggregator/internal/hash/sha256"
	"github.com/JakeFAU/rule-aggregator/internal/id/uuid"
	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/logging"
	"github.com/JakeFAU/rule-aggregator/internal/pipeline"
	"github.com/JakeFAU/rule-aggregator/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/rule-aggregator/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/rule-aggregator/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/rule-aggregator/internal/queue/memory"
	"github.com/JakeFAU/rule-aggregator/internal/rules"
	"github.com/JakeFAU/rule-aggregator/internal/runner"
	"github.com/JakeFAU/rule-aggregator/internal/source"
	gcsstorage "github.com/JakeFAU/rule-aggregator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/rule-aggregator/internal/storage/local"
	memoryStorage "github.com/JakeFAU/rule-aggregator/internal/storage/memory"
	pgstore "github.com/JakeFAU/rule-aggregator/internal/storage/postgres"
	"github.com/JakeFAU/rule-aggregator/internal/telemetry"
)

// StdinRules as aggregator.rules_path reads the rule document from stdin once.
const StdinRules = "-"

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	apiServer  *api.Server
	runner     *runner.Runner
	aggregator *aggregator.Aggregator
	queue      *queueMemory.Queue
	records    ingest.RecordStore
	ready      []api.ReadinessCheck

	storage   *storage.Client
	pgStore   *pgstore.RecordStore
	publisher *gcppublisher.Publisher
	tracer    *sdktrace.TracerProvider

	closeOnce sync.Once
}

// Build creates the application's dependencies. A nil logger builds one from
// the logging config.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("rules_path", cfg.Aggregator.RulesPath),
	)

	if err := setupTracing(ctx, app); err != nil {
		return nil, err
	}

	var err error
	app.records, err = setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	ruleSource, err := setupRules(app, os.Stdin)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS:   cfg.HTTP.PerHostRPS,
		PerHostBurst: cfg.HTTP.PerHostBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Limiter:      limiter,
	})
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.HTTP.UserAgent),
		zap.Duration("timeout", cfg.RequestTimeout()),
		zap.Bool("per_host_limit", limiter.Enabled()),
	)
	gate := pipeline.NewGate(cfg.Aggregator.Concurrency)
	strategies := source.NewSet(fetcher, gate, logging.Component(app.logger, "source"))
	app.aggregator = aggregator.New(ruleSource, strategies, app.records, logging.Component(app.logger, "aggregator"))

	app.queue = queueMemory.NewQueue(cfg.Runs.QueueDepth)
	runStore := memoryStorage.NewRunStore()
	app.runner = runner.New(
		app.aggregator,
		app.queue,
		runStore,
		publisher,
		system.New(),
		uuid.New(),
		sha256.New(),
		logging.Component(app.logger, "runner"),
	)

	app.apiServer = api.NewServer(
		app.aggregator,
		app.runner,
		runStore,
		*cfg,
		logging.Component(app.logger, "api"),
		app.ready...,
	)
	return app, nil
}

// Handler exposes the HTTP API, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce executes one aggregation on the calling goroutine.
func (a *App) RunOnce(ctx context.Context) (ingest.Run, aggregator.Result, error) {
	run, res, err := a.runner.RunNow(ctx, runner.TriggerCLI)
	if err != nil {
		return run, res, fmt.Errorf("aggregation run %s failed: %w", run.ID, err)
	}
	return run, res, nil
}

// Run starts the worker loop and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("runner started")
		a.runner.Run(ctx)
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
	a.queue.Close()
	wg.Wait()

	return a.Close()
}

// Close releases clients and flushes the logger. It is safe to call twice.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		a.closeInfrastructure()
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
}

func setupTracing(ctx context.Context, app *App) error {
	cfg := app.cfg.Tracing
	if !cfg.Enabled {
		return nil
	}
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		ServiceName:    logging.ServiceName,
		ServiceVersion: cfg.Version,
		ProjectID:      cfg.ProjectID,
		SampleRatio:    cfg.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	telemetry.Install(tp)
	app.tracer = tp
	app.logger.Info("tracing enabled",
		zap.String("project_id", cfg.ProjectID),
		zap.Float64("sample_ratio", cfg.SampleRatio),
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) (ingest.RecordStore, error) {
	cfg := app.cfg
	switch cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: cfg.Storage.GCS.Bucket,
			Object: cfg.Storage.GCS.Object,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs record store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("uri", store.URI()))
		return store, nil
	case config.BackendPostgres:
		app.logger.Info("using postgres storage backend")
		store, err := pgstore.NewRecordStore(ctx, pgstore.Config{
			DSN:             cfg.Database.DSN,
			Table:           cfg.Database.Table,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		app.pgStore = store
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		app.ready = append(app.ready, store.Ping)
		app.logger.Debug("postgres storage backend", zap.String("table", cfg.Database.Table))
		return store, nil
	case config.BackendMemory:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewRecordStore(), nil
	default:
		app.logger.Info("using local storage backend")
		store, err := localstorage.New(localstorage.Config{Path: cfg.Storage.Local.Path})
		if err != nil {
			return nil, fmt.Errorf("local record store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", store.Path()))
		return store, nil
	}
}

// setupRules reads rules from the configured file on every run, or once from
// stdin when the path is StdinRules.
func setupRules(app *App, stdin io.Reader) (ingest.RuleSource, error) {
	path := app.cfg.Aggregator.RulesPath
	if path == StdinRules {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read rules from stdin: %w", err)
		}
		set, err := rules.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse rules from stdin: %w", err)
		}
		app.logger.Info("using rules from stdin", zap.Int("rules", len(set.List)))
		return rules.Static{Set: set}, nil
	}

	source, err := rules.NewFileSource(path)
	if err != nil {
		return nil, fmt.Errorf("rule source init failed: %w", err)
	}
	app.ready = append(app.ready, func(context.Context) error {
		if _, err := os.Stat(source.Path()); err != nil {
			return fmt.Errorf("rules unavailable: %w", err)
		}
		return nil
	})
	return source, nil
}

func setupPublisher(ctx context.Context, app *App) (ingest.Publisher, error) {
	if !app.cfg.PubSubEnabled() {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(logging.Component(app.logger, "publisher")), nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}
