// Package postgres implements the tenant settings and AOI read port.
// Both tables are owned by the account service; this core only reads the
// columns the detection engines parameterize on.
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

	"github.com/croplens/croplens/internal/domain/tenants"
	"github.com/croplens/croplens/internal/infra/storage"
)

// tenantStore implements tenants.Repository on PostgreSQL.
type tenantStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

var _ tenants.Repository = (*tenantStore)(nil)

// NewTenantStore creates a PostgreSQL-backed tenant reader.
func NewTenantStore(pool *pgxpool.Pool, tracer trace.Tracer) *tenantStore {
	return &tenantStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// GetSettings loads the detection knobs for a tenant.
func (r *tenantStore) GetSettings(ctx context.Context, tenantID uuid.UUID) (tenants.Settings, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("tenant_id", tenantID.String()))

	var settings tenants.Settings
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_tenant_settings", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT tenant_id, min_valid_pixel_ratio, signals_enabled
			FROM tenant_settings
			WHERE tenant_id = $1`, tenantID)

		err := row.Scan(&settings.TenantID, &settings.MinValidPixelRatio, &settings.SignalsEnabled)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tenants.ErrTenantNotFound
			}
			return fmt.Errorf("get tenant settings error: %w", err)
		}
		return nil
	})
	return settings, err
}

// GetAOI loads the land-use context for an area of interest.
func (r *tenantStore) GetAOI(ctx context.Context, id uuid.UUID) (tenants.AOI, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("aoi_id", id.String()))

	var aoi tenants.AOI
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_aoi", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, tenant_id, land_use, has_active_season
			FROM aois
			WHERE id = $1`, id)

		err := row.Scan(&aoi.ID, &aoi.TenantID, &aoi.LandUse, &aoi.HasActiveSeason)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tenants.ErrAOINotFound
			}
			return fmt.Errorf("get aoi error: %w", err)
		}
		return nil
	})
	return aoi, err
}
