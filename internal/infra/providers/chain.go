package providers

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/infra/resilience"
	"github.com/croplens/croplens/pkg/common/logger"
)

// ResilientCatalog fronts an ordered list of scene providers. Each query
// retries transient failures per provider and falls through the chain,
// skipping providers whose breaker is open.
type ResilientCatalog struct {
	providers []SceneProvider
	breakers  []*resilience.CircuitBreaker
	retryCfg  resilience.RetryConfig

	logger *logger.Logger
	tracer trace.Tracer
}

var _ SceneProvider = (*ResilientCatalog)(nil)

// NewResilientCatalog builds the chain in the given provider order, one
// breaker per provider.
func NewResilientCatalog(
	chain []SceneProvider,
	breakerCfg resilience.BreakerConfig,
	retryCfg resilience.RetryConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
) *ResilientCatalog {
	breakers := make([]*resilience.CircuitBreaker, len(chain))
	for i, provider := range chain {
		breakers[i] = resilience.NewCircuitBreaker(provider.Name(), breakerCfg)
	}
	return &ResilientCatalog{
		providers: chain,
		breakers:  breakers,
		retryCfg:  retryCfg,
		logger:    logger.With("component", "resilient_catalog"),
		tracer:    tracer,
	}
}

func (c *ResilientCatalog) Name() string { return "resilient_catalog" }

func (c *ResilientCatalog) FindScenes(ctx context.Context, query SceneQuery) ([]Scene, error) {
	ctx, span := c.tracer.Start(ctx, "resilient_catalog.find_scenes",
		trace.WithAttributes(
			attribute.String("aoi_id", query.AOIID.String()),
			attribute.String("collection", query.Collection),
			attribute.Int("chain_length", len(c.providers)),
		),
	)
	defer span.End()

	guarded := make([]resilience.Guarded[[]Scene], len(c.providers))
	for i, provider := range c.providers {
		provider := provider
		guarded[i] = resilience.Guarded[[]Scene]{
			Name:    provider.Name(),
			Breaker: c.breakers[i],
			Call: func(ctx context.Context) ([]Scene, error) {
				var scenes []Scene
				err := resilience.Retry(ctx, c.retryCfg, func(ctx context.Context) error {
					var err error
					scenes, err = provider.FindScenes(ctx, query)
					return err
				})
				return scenes, err
			},
		}
	}

	scenes, err := resilience.Fallback(ctx, guarded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "all catalog providers failed")
		c.logger.Error(ctx, "All catalog providers failed", "aoi_id", query.AOIID, "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("scenes", len(scenes)))
	span.SetStatus(codes.Ok, "scenes found")
	return scenes, nil
}
