// Package postgres implements the signal and alert write ports. Both
// upserts target a partial unique index filtered to active statuses, so
// concurrent evaluation of the same key is race-free without a
// check-then-insert round trip.
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

	"github.com/croplens/croplens/internal/domain/detection"
	"github.com/croplens/croplens/internal/infra/storage"
)

// signalStore implements detection.SignalRepository on PostgreSQL.
type signalStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

var _ detection.SignalRepository = (*signalStore)(nil)

// NewSignalStore creates a PostgreSQL-backed signal repository.
func NewSignalStore(pool *pgxpool.Pool, tracer trace.Tracer) *signalStore {
	return &signalStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// UpsertOpen inserts an OPEN signal or refreshes the existing OPEN signal
// with the same key in place. Resolved and dismissed signals do not block a
// new insert; the conflict target is the partial index over OPEN rows.
func (r *signalStore) UpsertOpen(ctx context.Context, signal *detection.Signal) (bool, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("tenant_id", signal.Key.TenantID.String()),
		attribute.String("signal_type", signal.Key.SignalType.String()),
	)

	var inserted bool
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.upsert_open_signal", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			INSERT INTO opportunity_signals (
				id, tenant_id, aoi_id, year, week, pipeline_version, signal_type,
				severity, confidence, score, evidence, features, actions, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'OPEN')
			ON CONFLICT (tenant_id, aoi_id, year, week, pipeline_version, signal_type)
				WHERE status = 'OPEN'
			DO UPDATE SET
				severity = EXCLUDED.severity,
				confidence = EXCLUDED.confidence,
				score = EXCLUDED.score,
				evidence = EXCLUDED.evidence,
				features = EXCLUDED.features,
				actions = EXCLUDED.actions,
				updated_at = now()
			RETURNING id, (xmax = 0) AS inserted`,
			uuid.New(), signal.Key.TenantID, signal.Key.AOIID,
			signal.Key.Year, signal.Key.Week, signal.Key.PipelineVersion, signal.Key.SignalType,
			signal.Severity, signal.Confidence, signal.Score,
			signal.Evidence, signal.Features, signal.Actions,
		)
		if err := row.Scan(&signal.ID, &inserted); err != nil {
			return fmt.Errorf("upsert signal error: %w", err)
		}
		return nil
	})
	return inserted, err
}

// GetOpenByKey returns the OPEN signal for the key, if any.
func (r *signalStore) GetOpenByKey(ctx context.Context, key detection.SignalKey) (*detection.Signal, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("aoi_id", key.AOIID.String()),
		attribute.String("signal_type", key.SignalType.String()),
	)

	var signal *detection.Signal
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_open_signal", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, severity, confidence, score, evidence, features, actions, status, created_at, updated_at
			FROM opportunity_signals
			WHERE tenant_id = $1 AND aoi_id = $2 AND year = $3 AND week = $4
			  AND pipeline_version = $5 AND signal_type = $6 AND status = 'OPEN'`,
			key.TenantID, key.AOIID, key.Year, key.Week, key.PipelineVersion, key.SignalType,
		)

		loaded := detection.Signal{Key: key}
		err := row.Scan(
			&loaded.ID, &loaded.Severity, &loaded.Confidence, &loaded.Score,
			&loaded.Evidence, &loaded.Features, &loaded.Actions, &loaded.Status,
			&loaded.CreatedAt, &loaded.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return detection.ErrSignalNotFound
			}
			return fmt.Errorf("get signal error: %w", err)
		}
		signal = &loaded
		return nil
	})
	return signal, err
}
