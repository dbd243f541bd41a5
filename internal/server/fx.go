// Package server wires configuration into a running API process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/api"
	"github.com/JakeFAU/infra-api/internal/auth"
	"github.com/JakeFAU/infra-api/internal/clock/system"
	"github.com/JakeFAU/infra-api/internal/config"
	"github.com/JakeFAU/infra-api/internal/dispatcher"
	"github.com/JakeFAU/infra-api/internal/id/uuid"
	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/logging"
	"github.com/JakeFAU/infra-api/internal/metrics"
	"github.com/JakeFAU/infra-api/internal/policy/ratelimit"
	"github.com/JakeFAU/infra-api/internal/progress"
	progresssinks "github.com/JakeFAU/infra-api/internal/progress/sinks"
	"github.com/JakeFAU/infra-api/internal/provider"
	memorypublisher "github.com/JakeFAU/infra-api/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/infra-api/internal/publisher/pubsub"
	memqueue "github.com/JakeFAU/infra-api/internal/queue/memory"
	"github.com/JakeFAU/infra-api/internal/region"
	gcsstorage "github.com/JakeFAU/infra-api/internal/storage/gcs"
	localstorage "github.com/JakeFAU/infra-api/internal/storage/local"
	memstore "github.com/JakeFAU/infra-api/internal/storage/memory"
	pgstore "github.com/JakeFAU/infra-api/internal/storage/postgres"
	"github.com/JakeFAU/infra-api/internal/telemetry"
	"github.com/JakeFAU/infra-api/internal/worker"
)

const (
	shutdownTimeout       = 10 * time.Second
	defaultForwardTimeout = 30 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	progressHub    *progress.Hub
	queue          *memqueue.Queue
	pool           *pgxpool.Pool
	publisher      *gcppublisher.Publisher
	blobs          *gcsstorage.BlobStore
	tracerShutdown func(context.Context) error
}

// Handler exposes the HTTP handler, mostly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and HTTP server and blocks until the context is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("serve http: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases every resource Build acquired. It is safe to call after Run.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	a.closeObservability(ctx)
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync on stderr returns EINVAL on some platforms; nothing useful to do with it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	logger = logging.ForRegion(logger, cfg.Region.Number, cfg.Region.ServerID)
	zap.ReplaceGlobals(logger)
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.Int("remote_regions", len(cfg.Regions)),
	)

	app := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	inv, err := setupInventory(app)
	if err != nil {
		return nil, err
	}
	tasks, events, err := setupDatabase(ctx, app)
	if err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app, blobStore, publisher)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	app.queue = memqueue.NewQueue(cfg.Queue.Depth)
	app.dispatch = setupDispatcher(app, inv, tasks, emitter, clock)

	deps := api.Deps{
		Inventory: inv,
		Tasks:     tasks,
		Events:    events,
		Queue:     app.dispatch,
		IDs:       uuid.New(),
		Clock:     clock,
		Emitter:   emitter,
		Auth:      auth.New(cfg.Auth, logging.Component(logger, "auth")),
		Providers: provider.DefaultRegistry(),
		Forwarder: setupForwarder(app),
	}
	if app.pool != nil {
		deps.Ready = app.pool.Ping
	}
	app.apiServer = api.NewServer(deps, cfg, logging.Component(logger, "api"))

	ok = true
	return app, nil
}

func setupInventory(app *App) (*memstore.Inventory, error) {
	path := app.cfg.Inventory.SeedFile
	if path == "" {
		app.logger.Warn("no inventory seed configured, starting with an empty inventory")
		return memstore.NewInventory(), nil
	}
	seed, err := memstore.LoadSeedFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory seed: %w", err)
	}
	app.logger.Info("inventory seeded",
		zap.String("path", path),
		zap.Int("providers", len(seed.Providers)),
		zap.Int("vms", len(seed.VMs)),
		zap.Int("network_routers", len(seed.NetworkRouters)),
	)
	return memstore.NewInventoryFromSeed(seed), nil
}

func setupDatabase(ctx context.Context, app *App) (inventory.TaskStore, inventory.EventStore, error) {
	db := app.cfg.Database
	if db.DSN == "" {
		app.logger.Warn("no database DSN configured, tasks and events are kept in memory")
		return memstore.NewTaskStore(), memstore.NewEventStore(), nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("database init failed: %w", err)
	}
	app.pool = pool

	tasks, err := pgstore.NewTaskStoreWithPool(pool, db.TaskTable)
	if err != nil {
		return nil, nil, fmt.Errorf("task store init failed: %w", err)
	}
	events, err := pgstore.NewEventStoreWithPool(pool, db.EventTable, db.LifecycleTable)
	if err != nil {
		return nil, nil, fmt.Errorf("event store init failed: %w", err)
	}
	app.logger.Info("postgres stores initialized",
		zap.String("task_table", db.TaskTable),
		zap.String("event_table", db.EventTable),
		zap.String("lifecycle_table", db.LifecycleTable),
	)
	return tasks, events, nil
}

func setupStorage(ctx context.Context, app *App) (inventory.BlobStore, error) {
	st := app.cfg.Storage
	switch st.Backend {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx, st.Bucket)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: st.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.blobs = blobs
		app.logger.Info("using GCS storage backend", zap.String("bucket", st.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: st.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", st.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memstore.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (inventory.Publisher, error) {
	ps := app.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return app.publisher, nil
}

func setupProgress(
	ctx context.Context,
	app *App,
	blobs inventory.BlobStore,
	publisher inventory.Publisher,
) (progress.Emitter, error) {
	pc := app.cfg.Progress
	if !pc.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if pc.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(logging.Component(app.logger, "progress_log")))
	}
	if topic := app.cfg.PubSub.TopicName; topic != "" {
		pubSink, err := progresssinks.NewPublisherSink(publisher, topic, true)
		if err != nil {
			return nil, fmt.Errorf("publisher sink init failed: %w", err)
		}
		sinkList = append(sinkList, pubSink)
	}
	archive, err := progresssinks.NewArchiveSink(
		blobs,
		app.cfg.Storage.Prefix,
		app.cfg.Storage.ContentType,
		logging.Component(app.logger, "progress_archive"),
	)
	if err != nil {
		return nil, fmt.Errorf("archive sink init failed: %w", err)
	}
	sinkList = append(sinkList, archive)

	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(pc.Batch.MaxWaitMs) * time.Millisecond,
		TerminalWait:   time.Duration(pc.TerminalWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(pc.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         logging.Component(app.logger, "progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("terminal_wait", hubCfg.TerminalWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

func setupDispatcher(
	app *App,
	inv inventory.Inventory,
	tasks inventory.TaskStore,
	emitter progress.Emitter,
	clock inventory.Clock,
) *dispatcher.Dispatcher {
	var throttle worker.Throttle
	if app.cfg.RateLimit.Enabled {
		throttle = ratelimit.New(ratelimit.Config{
			RPS:     app.cfg.RateLimit.ProviderRPS,
			Burst:   app.cfg.RateLimit.ProviderBurst,
			Observe: metrics.ObserveThrottleDelay,
		})
		app.logger.Info("provider rate limit enabled",
			zap.Float64("rps", app.cfg.RateLimit.ProviderRPS),
			zap.Int("burst", app.cfg.RateLimit.ProviderBurst),
		)
	}

	adapter := provider.NewSimulator(inv, clock, logging.Component(app.logger, "simulator"))
	workerCfg := worker.Config{TaskTimeout: app.cfg.TaskTimeout()}
	count := max(app.cfg.Workers.Concurrency, 1)
	workers := make([]*worker.Worker, 0, count)
	for i := range count {
		workers = append(workers, worker.New(
			app.queue,
			tasks,
			adapter,
			throttle,
			emitter,
			clock,
			workerCfg,
			logging.Component(app.logger, "worker").With(zap.Int("worker", i)),
		))
	}
	app.logger.Info("worker pool configured",
		zap.Int("concurrency", count),
		zap.Duration("task_timeout", workerCfg.TaskTimeout),
	)
	return dispatcher.New(app.queue, workers,
		dispatcher.WithAbandonedTasks(tasks, logging.Component(app.logger, "dispatcher")),
	)
}

func setupForwarder(app *App) api.Forwarder {
	if len(app.cfg.Regions) == 0 {
		return nil
	}
	timeout := defaultForwardTimeout
	if app.cfg.Server.TimeoutSeconds > 0 {
		timeout = time.Duration(app.cfg.Server.TimeoutSeconds) * time.Second
	}
	return region.New(app.cfg.RemoteRegion, &http.Client{Timeout: timeout}, logging.Component(app.logger, "region"))
}
