// Package providers holds the external imagery catalog port and the
// resilient chain the processing handlers fetch scenes through. The raster
// math downstream of scene retrieval stays behind the handlers' processor
// ports.
package providers

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Scene is one catalog entry returned by a provider query.
type Scene struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	AcquiredAt time.Time `json:"acquired_at"`
	CloudCover float64   `json:"cloud_cover"`
	AssetURL   string    `json:"asset_url"`
}

// SceneQuery selects scenes intersecting one AOI over a date range.
type SceneQuery struct {
	TenantID uuid.UUID
	AOIID    uuid.UUID
	From     time.Time
	To       time.Time

	// Collection names the sensor collection (optical, radar).
	Collection string

	// MaxCloudCover filters optical scenes; radar queries leave it zero.
	MaxCloudCover float64
}

// SceneProvider is one interchangeable imagery catalog. Implementations
// flag retryable failures with resilience.MarkTransient so the retry and
// breaker wrappers can tell throttling from permanent errors.
type SceneProvider interface {
	Name() string
	FindScenes(ctx context.Context, query SceneQuery) ([]Scene, error)
}
