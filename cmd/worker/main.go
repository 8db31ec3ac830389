package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	appdetection "github.com/croplens/croplens/internal/app/detection"
	"github.com/croplens/croplens/internal/app/dispatch"
	"github.com/croplens/croplens/internal/app/handlers"
	"github.com/croplens/croplens/internal/app/ingest"
	"github.com/croplens/croplens/internal/app/planner"
	"github.com/croplens/croplens/internal/config"
	"github.com/croplens/croplens/internal/domain/events"
	"github.com/croplens/croplens/internal/infra/eventbus/kafka"
	"github.com/croplens/croplens/internal/infra/providers"
	redisqueue "github.com/croplens/croplens/internal/infra/queue/redis"
	"github.com/croplens/croplens/internal/infra/resilience"
	detectionStore "github.com/croplens/croplens/internal/infra/storage/detection/postgres"
	jobStore "github.com/croplens/croplens/internal/infra/storage/jobs/postgres"
	observationStore "github.com/croplens/croplens/internal/infra/storage/observations/postgres"
	tenantStore "github.com/croplens/croplens/internal/infra/storage/tenants/postgres"
	"github.com/croplens/croplens/pkg/common/logger"
	"github.com/croplens/croplens/pkg/common/otel"
)

const serviceType = "worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}
	svcName := fmt.Sprintf("WORKER-%s", hostname)
	logg := logger.New(os.Stdout, logger.LevelInfo, svcName, traceIDFn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(logg, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: cfg.OtelEndpoint,
		Probability:      1,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"app":              serviceType,
		},
		InsecureExporter: true,
	})
	if err != nil {
		logg.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)
	tracer := tp.Tracer(svcName)

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logg.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logg.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		logg.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "Migrations applied, starting worker")

	redisClient, err := redisqueue.ConnectWithRetry(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logg.Error(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	jobQueue := redisqueue.NewQueue(redisClient, redisqueue.DefaultConfig(), logg, tracer)
	go func() { _ = jobQueue.RunReaper(ctx) }()

	var eventBus events.DomainEventPublisher
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher, err := kafka.ConnectWithRetry(kafka.Config{
			Brokers:           brokers,
			ClientID:          fmt.Sprintf("%s-%s", cfg.KafkaClientID, hostname),
			SignalsTopic:      cfg.KafkaSignalsTopic,
			AlertsTopic:       cfg.KafkaAlertsTopic,
			JobLifecycleTopic: cfg.KafkaJobLifecycleTopic,
		}, logg, tracer)
		if err != nil {
			logg.Error(ctx, "failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		eventBus = publisher
	} else {
		logg.Info(ctx, "KAFKA_BROKERS not set, domain events disabled")
	}

	jobs := jobStore.NewJobStore(pool, tracer)
	obs := observationStore.NewObservationStore(pool, tracer)
	tenants := tenantStore.NewTenantStore(pool, tracer)
	signals := detectionStore.NewSignalStore(pool, tracer)
	alerts := detectionStore.NewAlertStore(pool, tracer)

	signalEngine := appdetection.NewSignalEngine(appdetection.SignalEngineConfig{
		MinHistoryWeeks:  cfg.SignalsMinHistoryWeeks,
		HistoryMargin:    2,
		ScoreThreshold:   cfg.SignalsScoreThreshold,
		Strategy:         cfg.SignalsChangeDetection,
		PersistenceWeeks: cfg.SignalsPersistenceWeeks,
		PipelineVersion:  cfg.PipelineVersion,
	}, obs, tenants, signals, eventBus, logg, tracer)

	alertEngine := appdetection.NewAlertEngine(appdetection.AlertEngineConfig{
		PipelineVersion: cfg.PipelineVersion,
	}, obs, tenants, alerts, eventBus, logg, tracer)

	backfillPlanner := planner.NewBackfillPlanner(jobs, jobQueue, logg, tracer)

	var optical, radar *handlers.ProcessWeekHandler
	var weather, topography *handlers.ProcessRangeHandler
	if cfg.CatalogBaseURL != "" {
		catalog := providers.NewResilientCatalog(
			[]providers.SceneProvider{
				providers.NewRateLimitedProvider(providers.NewHTTPCatalogProvider(providers.HTTPCatalogConfig{
					Name:    "primary_catalog",
					BaseURL: cfg.CatalogBaseURL,
					APIKey:  cfg.CatalogAPIKey,
				}), 10, 20),
			},
			resilience.DefaultBreakerConfig(),
			resilience.DefaultRetryConfig(),
			logg, tracer,
		)

		newProcessor := func(collection string, maxCloudCover float64) *ingest.CatalogProcessor {
			return ingest.NewCatalogProcessor(ingest.CatalogProcessorConfig{
				Collection:    collection,
				MaxCloudCover: maxCloudCover,
			}, catalog, logg, tracer)
		}
		optical = handlers.NewProcessWeekHandler(newProcessor("sentinel-2-l2a", 0.6))
		radar = handlers.NewProcessWeekHandler(newProcessor("sentinel-1-grd", 0))
		weather = handlers.NewProcessRangeHandler(newProcessor("era5-weather", 0))
		topography = handlers.NewProcessRangeHandler(newProcessor("copernicus-dem", 0))
	} else {
		logg.Info(ctx, "CATALOG_BASE_URL not set, processing handlers disabled")
	}

	registry := dispatch.NewHandlerRegistry()
	handlers.RegisterAll(registry,
		handlers.NewBackfillHandler(backfillPlanner),
		optical,
		radar,
		weather,
		topography,
		handlers.NewSignalsWeekHandler(signalEngine),
		handlers.NewAlertsWeekHandler(alertEngine),
		nil, // no forecaster deployed; FORECAST_WEEK jobs fail terminally at dispatch
	)

	dispatchMetrics, err := dispatch.NewDispatchMetrics(otel.GetMeterProvider())
	if err != nil {
		logg.Error(ctx, "failed to create dispatch metrics", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.NewDispatcher(
		dispatch.Config{Concurrency: cfg.WorkerConcurrency},
		jobQueue, registry, jobs, eventBus, dispatchMetrics, logg, tracer,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- dispatcher.Run(ctx) }()

	select {
	case sig := <-sigCh:
		logg.Info(ctx, "Shutdown signal received", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "dispatcher stopped", "error", err)
			os.Exit(1)
		}
	}
	logg.Info(ctx, "Worker stopped")
}

func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file:///app/db/migrations"
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}
