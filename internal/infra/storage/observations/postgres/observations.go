// Package postgres implements the observation read port. Observations are
// written by the upstream raster pipeline; the detection engines only read
// them, so this store exposes queries and no writes.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/domain/observations"
	"github.com/croplens/croplens/internal/infra/storage"
)

// observationStore implements observations.ReadRepository on PostgreSQL.
type observationStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

var _ observations.ReadRepository = (*observationStore)(nil)

// NewObservationStore creates a PostgreSQL-backed observation reader.
func NewObservationStore(pool *pgxpool.Pool, tracer trace.Tracer) *observationStore {
	return &observationStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const observationColumns = `tenant_id, aoi_id, year, week, pipeline_version,
	status, mean_index, p10_index, p90_index, std_index, valid_ratio,
	baseline, anomaly, fallback, created_at`

func scanObservation(row pgx.Row) (observations.Observation, error) {
	var obs observations.Observation
	err := row.Scan(
		&obs.TenantID, &obs.AOIID, &obs.Year, &obs.Week, &obs.PipelineVersion,
		&obs.Status, &obs.MeanIndex, &obs.P10Index, &obs.P90Index, &obs.StdIndex,
		&obs.ValidRatio, &obs.Baseline, &obs.Anomaly, &obs.Fallback, &obs.CreatedAt,
	)
	return obs, err
}

// ListRecentOK returns up to limit most recent OK observations for the AOI,
// re-sorted ascending so callers receive an analysis-ready window.
func (r *observationStore) ListRecentOK(
	ctx context.Context,
	tenantID, aoiID uuid.UUID,
	pipelineVersion string,
	limit int,
) ([]observations.Observation, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("aoi_id", aoiID.String()),
		attribute.Int("limit", limit),
	)

	var window []observations.Observation
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_recent_ok_observations", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, fmt.Sprintf(`
			SELECT %s FROM (
				SELECT %s
				FROM observations
				WHERE tenant_id = $1 AND aoi_id = $2 AND pipeline_version = $3 AND status = 'OK'
				ORDER BY year DESC, week DESC
				LIMIT $4
			) recent
			ORDER BY year ASC, week ASC`, observationColumns, observationColumns),
			tenantID, aoiID, pipelineVersion, limit,
		)
		if err != nil {
			return fmt.Errorf("list recent observations error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			obs, err := scanObservation(rows)
			if err != nil {
				return fmt.Errorf("scan observation error: %w", err)
			}
			window = append(window, obs)
		}
		return rows.Err()
	})
	return window, err
}

// GetWeek returns the observation for an exact week, regardless of status.
func (r *observationStore) GetWeek(
	ctx context.Context,
	tenantID, aoiID uuid.UUID,
	year, week int,
	pipelineVersion string,
) (observations.Observation, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("aoi_id", aoiID.String()),
		attribute.Int("year", year),
		attribute.Int("week", week),
	)

	var obs observations.Observation
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_observation_week", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, fmt.Sprintf(`
			SELECT %s
			FROM observations
			WHERE tenant_id = $1 AND aoi_id = $2 AND year = $3 AND week = $4 AND pipeline_version = $5`,
			observationColumns),
			tenantID, aoiID, year, week, pipelineVersion,
		)

		var err error
		if obs, err = scanObservation(row); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return observations.ErrObservationNotFound
			}
			return fmt.Errorf("get observation error: %w", err)
		}
		return nil
	})
	return obs, err
}

// GetPreviousWeek returns the observation for the ISO week immediately
// before the given week. A gap week yields ErrObservationNotFound; the
// store never reaches further back, so week-over-week comparisons cannot
// span a multi-week hole.
func (r *observationStore) GetPreviousWeek(
	ctx context.Context,
	tenantID, aoiID uuid.UUID,
	year, week int,
	pipelineVersion string,
) (observations.Observation, error) {
	current := observations.Observation{Year: year, Week: week}
	prevYear, prevWeek := current.WeekStart().AddDate(0, 0, -7).ISOWeek()
	return r.GetWeek(ctx, tenantID, aoiID, prevYear, prevWeek, pipelineVersion)
}

// CountRecentAnomalies counts observations over the trailing weeks window
// ending at (year, week) whose anomaly falls below floor. The window is
// enumerated as ISO weeks in Go so a year boundary inside the window is
// handled the same way the planner enumerates weeks.
func (r *observationStore) CountRecentAnomalies(
	ctx context.Context,
	tenantID, aoiID uuid.UUID,
	year, week, weeks int,
	floor float64,
	pipelineVersion string,
) (int, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("aoi_id", aoiID.String()),
		attribute.Int("year", year),
		attribute.Int("week", week),
		attribute.Int("window_weeks", weeks),
	)

	var count int
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.count_recent_anomalies", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM observations
			WHERE tenant_id = $1 AND aoi_id = $2 AND pipeline_version = $3
			  AND status = 'OK'
			  AND anomaly < $4
			  AND year * 100 + week = ANY($5)`,
			tenantID, aoiID, pipelineVersion, floor, trailingWeekCodes(year, week, weeks),
		)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("count recent anomalies error: %w", err)
		}
		return nil
	})
	return count, err
}

// trailingWeekCodes returns year*100+week codes for the window of ISO weeks
// ending at (year, week) inclusive, walking backwards 7 days at a time.
func trailingWeekCodes(year, week, weeks int) []int {
	obs := observations.Observation{Year: year, Week: week}
	monday := obs.WeekStart()

	codes := make([]int, 0, weeks)
	for i := 0; i < weeks; i++ {
		y, w := monday.AddDate(0, 0, -7*i).ISOWeek()
		codes = append(codes, y*100+w)
	}
	return codes
}
