// Package tenants holds the tenant and AOI read models this core needs:
// quality thresholds, feature flags and land-use context. Full tenant/AOI
// management lives in the account service.
package tenants

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrTenantNotFound indicates no settings row exists for the tenant.
var ErrTenantNotFound = errors.New("tenant settings not found")

// ErrAOINotFound indicates the AOI does not exist.
var ErrAOINotFound = errors.New("aoi not found")

// LandUse categorizes what an AOI is used for; it parameterizes the
// signal engine's rule-based scoring.
type LandUse string

const (
	LandUseCropland LandUse = "CROPLAND"
	LandUsePasture  LandUse = "PASTURE"
	LandUseOrchard  LandUse = "ORCHARD"
	LandUseForestry LandUse = "FORESTRY"
)

// Settings are the tenant-level knobs consumed by the detection engines.
type Settings struct {
	TenantID           uuid.UUID
	MinValidPixelRatio float64
	SignalsEnabled     bool
}

// AOI is the slice of the area-of-interest aggregate this core reads.
type AOI struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	LandUse         LandUse
	HasActiveSeason bool
}

// Repository is the read port for tenant settings and AOI context.
type Repository interface {
	GetSettings(ctx context.Context, tenantID uuid.UUID) (Settings, error)
	GetAOI(ctx context.Context, id uuid.UUID) (AOI, error)
}
