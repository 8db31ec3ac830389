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

// alertStore implements detection.AlertRepository on PostgreSQL.
type alertStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

var _ detection.AlertRepository = (*alertStore)(nil)

// NewAlertStore creates a PostgreSQL-backed alert repository.
func NewAlertStore(pool *pgxpool.Pool, tracer trace.Tracer) *alertStore {
	return &alertStore{db: pool, tracer: tracer}
}

// UpsertActive inserts an OPEN alert or refreshes the existing OPEN/ACK
// alert with the same key in place. An acknowledged alert keeps its ACK
// status; only the severity, confidence and evidence are refreshed.
func (r *alertStore) UpsertActive(ctx context.Context, alert *detection.Alert) (bool, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("tenant_id", alert.Key.TenantID.String()),
		attribute.String("alert_type", alert.Key.AlertType.String()),
	)

	var inserted bool
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.upsert_active_alert", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			INSERT INTO alerts (
				id, tenant_id, aoi_id, year, week, alert_type,
				severity, confidence, evidence, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'OPEN')
			ON CONFLICT (tenant_id, aoi_id, year, week, alert_type)
				WHERE status IN ('OPEN', 'ACK')
			DO UPDATE SET
				severity = EXCLUDED.severity,
				confidence = EXCLUDED.confidence,
				evidence = EXCLUDED.evidence,
				updated_at = now()
			RETURNING id, (xmax = 0) AS inserted`,
			uuid.New(), alert.Key.TenantID, alert.Key.AOIID,
			alert.Key.Year, alert.Key.Week, alert.Key.AlertType,
			alert.Severity, alert.Confidence, alert.Evidence,
		)
		if err := row.Scan(&alert.ID, &inserted); err != nil {
			return fmt.Errorf("upsert alert error: %w", err)
		}
		return nil
	})
	return inserted, err
}

// GetActiveByKey returns the OPEN or ACK alert for the key, if any.
func (r *alertStore) GetActiveByKey(ctx context.Context, key detection.AlertKey) (*detection.Alert, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("aoi_id", key.AOIID.String()),
		attribute.String("alert_type", key.AlertType.String()),
	)

	var alert *detection.Alert
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_active_alert", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, severity, confidence, evidence, status, created_at, updated_at
			FROM alerts
			WHERE tenant_id = $1 AND aoi_id = $2 AND year = $3 AND week = $4
			  AND alert_type = $5 AND status IN ('OPEN', 'ACK')`,
			key.TenantID, key.AOIID, key.Year, key.Week, key.AlertType,
		)

		loaded := detection.Alert{Key: key}
		err := row.Scan(
			&loaded.ID, &loaded.Severity, &loaded.Confidence,
			&loaded.Evidence, &loaded.Status, &loaded.CreatedAt, &loaded.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return detection.ErrAlertNotFound
			}
			return fmt.Errorf("get alert error: %w", err)
		}
		alert = &loaded
		return nil
	})
	return alert, err
}
