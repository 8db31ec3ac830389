// Command backfill validates a reprocessing request and enqueues the
// BACKFILL job that plans it. Validation is synchronous so an operator
// typo fails here, never inside the worker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/croplens/croplens/internal/config"
	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/queue"
	redisqueue "github.com/croplens/croplens/internal/infra/queue/redis"
	jobStore "github.com/croplens/croplens/internal/infra/storage/jobs/postgres"
	"github.com/croplens/croplens/pkg/common/logger"
	"github.com/croplens/croplens/pkg/common/otel"
)

func main() {
	_, _ = maxprocs.Set()

	var (
		tenantID        = flag.String("tenant-id", "", "tenant UUID")
		aoiID           = flag.String("aoi-id", "", "AOI UUID")
		from            = flag.String("from", "", "range start (YYYY-MM-DD)")
		to              = flag.String("to", "", "range end (YYYY-MM-DD)")
		signalsEnabled  = flag.Bool("signals", true, "plan SIGNALS_WEEK jobs")
		hasActiveSeason = flag.Bool("active-season", false, "plan FORECAST_WEEK jobs")
	)
	flag.Parse()

	cmd, err := buildCommand(*tenantID, *aoiID, *from, *to, *signalsEnabled, *hasActiveSeason)
	if err != nil {
		log.Fatalf("invalid request: %v", err)
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}
	logg := logger.New(os.Stdout, logger.LevelInfo, "backfill-cli", traceIDFn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	cmd.PipelineVersion = cfg.PipelineVersion

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logg.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logg.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := redisqueue.ConnectWithRetry(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logg.Error(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	tracer := noop.NewTracerProvider().Tracer("backfill-cli")
	store := jobStore.NewJobStore(pool, tracer)
	jobQueue := redisqueue.NewQueue(redisClient, redisqueue.DefaultConfig(), logg, tracer)

	payload, err := json.Marshal(cmd)
	if err != nil {
		logg.Error(ctx, "failed to marshal command", "error", err)
		os.Exit(1)
	}

	jobKey := jobs.Key(cmd.TenantID, cmd.AOIID,
		jobs.RangeBucket{From: cmd.FromDate, To: cmd.ToDate},
		jobs.JobTypeBackfill, cmd.PipelineVersion,
	)

	result, err := store.Upsert(ctx, jobs.UpsertJobParams{
		TenantID: cmd.TenantID,
		AOIID:    cmd.AOIID,
		JobType:  jobs.JobTypeBackfill,
		JobKey:   jobKey,
		Payload:  payload,
	})
	if err != nil {
		logg.Error(ctx, "failed to upsert backfill job", "error", err)
		os.Exit(1)
	}

	err = jobQueue.Publish(ctx, queue.TierHigh, queue.Message{
		JobID:   result.JobID,
		JobType: string(jobs.JobTypeBackfill),
		Payload: payload,
	})
	if err != nil {
		logg.Error(ctx, "failed to publish backfill job", "error", err)
		os.Exit(1)
	}

	logg.Info(ctx, "Backfill enqueued",
		"job_id", result.JobID,
		"inserted", result.Inserted,
		"from", cmd.FromDate.Format(time.DateOnly),
		"to", cmd.ToDate.Format(time.DateOnly),
	)
}

func buildCommand(tenantID, aoiID, from, to string, signalsEnabled, hasActiveSeason bool) (jobs.BackfillCommand, error) {
	var cmd jobs.BackfillCommand

	tenant, err := uuid.Parse(tenantID)
	if err != nil {
		return cmd, fmt.Errorf("tenant-id: %w", err)
	}
	aoi, err := uuid.Parse(aoiID)
	if err != nil {
		return cmd, fmt.Errorf("aoi-id: %w", err)
	}
	fromDate, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return cmd, fmt.Errorf("from: %w", err)
	}
	toDate, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return cmd, fmt.Errorf("to: %w", err)
	}

	cmd = jobs.BackfillCommand{
		TenantID:        tenant,
		AOIID:           aoi,
		FromDate:        fromDate,
		ToDate:          toDate,
		PipelineVersion: "unset", // stamped from config after load
		SignalsEnabled:  signalsEnabled,
		HasActiveSeason: hasActiveSeason,
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}
