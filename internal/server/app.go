// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/api"
	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/clock/system"
	"github.com/JakeFAU/visitor-telemetry/internal/config"
	"github.com/JakeFAU/visitor-telemetry/internal/dedup"
	"github.com/JakeFAU/visitor-telemetry/internal/dispatcher"
	"github.com/JakeFAU/visitor-telemetry/internal/enrich"
	"github.com/JakeFAU/visitor-telemetry/internal/geo"
	"github.com/JakeFAU/visitor-telemetry/internal/geo/network"
	"github.com/JakeFAU/visitor-telemetry/internal/geo/offline"
	"github.com/JakeFAU/visitor-telemetry/internal/id/uuid"
	"github.com/JakeFAU/visitor-telemetry/internal/logging"
	"github.com/JakeFAU/visitor-telemetry/internal/notify"
	"github.com/JakeFAU/visitor-telemetry/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/visitor-telemetry/internal/queue/memory"
	logsink "github.com/JakeFAU/visitor-telemetry/internal/sink/log"
	pubsubsink "github.com/JakeFAU/visitor-telemetry/internal/sink/pubsub"
	"github.com/JakeFAU/visitor-telemetry/internal/sink/telegram"
	memoryStorage "github.com/JakeFAU/visitor-telemetry/internal/storage/memory"
	pgstore "github.com/JakeFAU/visitor-telemetry/internal/storage/postgres"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
	"github.com/JakeFAU/visitor-telemetry/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	clock           beacon.Clock
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	queue           *queueMemory.Queue
	notifier        *notify.Notifier
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	geoReader       *offline.Reader
	pgStore         *pgstore.EventStore
	tracerShutdown  func(context.Context) error
	metricShutdown  func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) *App {
	type sanitizedConfig struct {
		ServerPort    int    `json:"server_port"`
		NotifyBackend string `json:"notify_backend"`
		Persistent    bool   `json:"persistent"`
		OfflineGeo    bool   `json:"offline_geo"`
		NetworkGeo    bool   `json:"network_geo"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:    cfg.Server.Port,
		NotifyBackend: cfg.Notify.Backend,
		Persistent:    cfg.DB.DSN != "",
		OfflineGeo:    cfg.Geo.OfflineDBPath != "",
		NetworkGeo:    cfg.Geo.NetworkEnabled,
	}))
	return &App{cfg: cfg, logger: logger, clock: system.New()}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Pipeline.Workers))
		a.dispatch.Run(ctx)
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

	if a.cfg.Notify.AnnounceStartup {
		go func() {
			// Announce records its own outcome.
			_ = a.notifier.Announce(ctx, a.clock.Now(), a.cfg.Application.ServiceName)
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone

	return a.Close(shutdownCtx)
}

// Close releases infrastructure and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.geoReader != nil {
		if err := a.geoReader.Close(); err != nil {
			a.logger.Warn("geoip database close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("metric shutdown failed", zap.Error(err))
		}
	}
	// Sync errors on stderr are expected and not actionable.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := NewApp(cfg, logger)

	tp, mp, err := telemetry.InitTelemetry(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.metricShutdown = mp.Shutdown

	app.logger.Info("building application dependencies")
	ids := uuid.NewUUIDGenerator()

	store, err := setupStore(ctx, app, ids)
	if err != nil {
		return nil, err
	}

	resolver, err := setupGeo(app)
	if err != nil {
		return nil, err
	}

	sink, err := setupSink(ctx, app)
	if err != nil {
		return nil, err
	}
	app.notifier = notify.NewNotifier(sink, cfg.Location(), cfg.Pipeline.NotifyTimeout, logger.Named("notify"))

	app.queue = queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	app.dispatch = setupDispatcher(app, store, resolver)

	app.apiServer = api.NewServer(
		store,
		dedup.NewGate(cfg.Dedup.Capacity),
		ratelimit.New(ratelimit.Config{
			Window:        cfg.RateLimit.IngestWindow,
			Retention:     cfg.RateLimit.IngestRetention,
			SweepInterval: cfg.RateLimit.SweepInterval,
		}),
		app.dispatch,
		ids,
		app.clock,
		cfg,
		logger.Named("api"),
	)

	return app, nil
}

func setupStore(ctx context.Context, app *App, ids beacon.IDGenerator) (beacon.RecordStore, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping records in memory")
		return memoryStorage.NewEventStore(ids, memoryStorage.DefaultMaxRecords), nil
	}
	store, err := pgstore.NewEventStore(ctx, pgstore.EventStoreConfig{
		DSN:             app.cfg.DB.DSN,
		Table:           app.cfg.DB.Table,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	}, ids)
	if err != nil {
		return nil, fmt.Errorf("event store init failed: %w", err)
	}
	app.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("event store schema failed: %w", err)
	}
	app.logger.Info("event store initialized", zap.String("table", app.cfg.DB.Table))
	return store, nil
}

func setupGeo(app *App) (*geo.Resolver, error) {
	var offlineSource beacon.OfflineGeoSource
	if path := app.cfg.Geo.OfflineDBPath; path != "" {
		reader, err := offline.Open(path, app.logger.Named("geoip"))
		if err != nil {
			return nil, fmt.Errorf("geoip database init failed: %w", err)
		}
		app.geoReader = reader
		offlineSource = reader
		app.logger.Info("offline geoip database loaded", zap.String("path", path))
	}

	var networkSource beacon.NetworkGeoSource
	if app.cfg.Geo.NetworkEnabled {
		networkSource = network.New(network.Config{
			BaseURL:         app.cfg.Geo.NetworkBaseURL,
			Timeout:         app.cfg.Geo.NetworkTimeout,
			BreakerFailures: app.cfg.Geo.BreakerFailures,
			BreakerCooldown: app.cfg.Geo.BreakerCooldown,
		}, nil, app.logger.Named("ipapi"))
		app.logger.Info("network geolocation enabled", zap.String("base_url", app.cfg.Geo.NetworkBaseURL))
	}

	return geo.NewResolver(offlineSource, networkSource, app.cfg.Geo.NetworkTimeout, app.logger.Named("geo")), nil
}

func setupSink(ctx context.Context, app *App) (beacon.MessageSink, error) {
	switch app.cfg.Notify.Backend {
	case config.BackendTelegram:
		sink, err := telegram.New(app.cfg.Telegram.BotToken, app.cfg.Telegram.ChatID, app.cfg.Pipeline.NotifyTimeout)
		if err != nil {
			return nil, fmt.Errorf("telegram sink init failed: %w", err)
		}
		app.logger.Info("telegram notifications enabled")
		return sink, nil
	case config.BackendPubSub:
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
		app.logger.Info(
			"Pub/Sub notifications enabled",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
		return pubsubsink.New(app.pubsubPublisher), nil
	case config.BackendNone:
		app.logger.Warn("notifications disabled")
		return nil, nil
	default:
		app.logger.Info("notifications written to the log")
		return logsink.New(app.logger.Named("alerts")), nil
	}
}

func setupDispatcher(app *App, store beacon.RecordStore, resolver *geo.Resolver) *dispatcher.Dispatcher {
	enricher := enrich.New(resolver, app.clock, app.logger.Named("enrich"))
	notifyLimiter := ratelimit.New(ratelimit.Config{
		Window:        app.cfg.RateLimit.NotifyWindow,
		Retention:     app.cfg.RateLimit.NotifyRetention,
		SweepInterval: app.cfg.RateLimit.SweepInterval,
	})
	workerCfg := worker.Config{
		PersistTimeout: app.cfg.Pipeline.PersistTimeout,
		NotifyTimeout:  app.cfg.Pipeline.NotifyTimeout,
	}
	app.logger.Info("worker config",
		zap.Int("workers", app.cfg.Pipeline.Workers),
		zap.Int("queue_depth", app.cfg.Pipeline.QueueDepth),
		zap.Duration("persist_timeout", workerCfg.PersistTimeout),
		zap.Duration("notify_timeout", workerCfg.NotifyTimeout),
	)

	var workers []*worker.Worker
	for i := 0; i < app.cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			enricher,
			store,
			notifyLimiter,
			app.notifier,
			app.clock,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers, dispatcher.DefaultDrainTimeout, app.logger.Named("dispatcher"))
}
