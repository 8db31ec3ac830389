// Package ingest stages imagery for the raster pipeline. The catalog
// processor resolves which scenes cover an AOI window through the resilient
// provider chain; the raster math downstream turns staged scenes into
// observation rows.
package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/app/handlers"
	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/infra/providers"
	"github.com/croplens/croplens/pkg/common/logger"
)

// CatalogProcessorConfig selects the sensor collection one processor
// instance serves.
type CatalogProcessorConfig struct {
	Collection    string
	MaxCloudCover float64
}

// CatalogProcessor implements the week and range processing ports on a
// scene catalog. A week with no scenes is not an error; the raster pipeline
// records a NO_DATA observation for it.
type CatalogProcessor struct {
	cfg     CatalogProcessorConfig
	catalog providers.SceneProvider

	logger *logger.Logger
	tracer trace.Tracer
}

var (
	_ handlers.WeekProcessor  = (*CatalogProcessor)(nil)
	_ handlers.RangeProcessor = (*CatalogProcessor)(nil)
)

// NewCatalogProcessor wires a processor to a catalog, typically the
// resilient fallback chain.
func NewCatalogProcessor(
	cfg CatalogProcessorConfig,
	catalog providers.SceneProvider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *CatalogProcessor {
	return &CatalogProcessor{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger.With("component", "catalog_processor", "collection", cfg.Collection),
		tracer:  tracer,
	}
}

// ProcessWeek stages the scenes intersecting one ISO week.
func (p *CatalogProcessor) ProcessWeek(ctx context.Context, cmd jobs.WeekCommand) (handlers.ProcessSummary, error) {
	monday := isoWeekStart(cmd.Year, cmd.Week)
	return p.stage(ctx, providers.SceneQuery{
		TenantID:      cmd.TenantID,
		AOIID:         cmd.AOIID,
		From:          monday,
		To:            monday.AddDate(0, 0, 7),
		Collection:    p.cfg.Collection,
		MaxCloudCover: p.cfg.MaxCloudCover,
	})
}

// ProcessRange stages the scenes for a range-scoped product.
func (p *CatalogProcessor) ProcessRange(ctx context.Context, cmd jobs.RangeCommand) (handlers.ProcessSummary, error) {
	return p.stage(ctx, providers.SceneQuery{
		TenantID:      cmd.TenantID,
		AOIID:         cmd.AOIID,
		From:          cmd.FromDate,
		To:            cmd.ToDate,
		Collection:    p.cfg.Collection,
		MaxCloudCover: p.cfg.MaxCloudCover,
	})
}

func (p *CatalogProcessor) stage(ctx context.Context, query providers.SceneQuery) (handlers.ProcessSummary, error) {
	ctx, span := p.tracer.Start(ctx, "catalog_processor.stage",
		trace.WithAttributes(
			attribute.String("aoi_id", query.AOIID.String()),
			attribute.String("collection", query.Collection),
		),
	)
	defer span.End()

	scenes, err := p.catalog.FindScenes(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scene lookup failed")
		return handlers.ProcessSummary{}, err
	}

	span.SetAttributes(attribute.Int("scenes_found", len(scenes)))
	span.SetStatus(codes.Ok, "scenes staged")
	p.logger.Info(ctx, "Scenes staged",
		"aoi_id", query.AOIID,
		"scenes_found", len(scenes),
	)
	return handlers.ProcessSummary{ScenesFetched: len(scenes)}, nil
}

// isoWeekStart returns the Monday of the ISO week in UTC.
func isoWeekStart(year, week int) time.Time {
	// Jan 4 is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -(int(jan4.Weekday())+6)%7)
	return monday.AddDate(0, 0, (week-1)*7)
}
