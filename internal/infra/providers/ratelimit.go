package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a provider with a client-side request budget so
// a backfill burst cannot exhaust the catalog's API quota.
type RateLimitedProvider struct {
	inner   SceneProvider
	limiter *rate.Limiter
}

var _ SceneProvider = (*RateLimitedProvider)(nil)

// NewRateLimitedProvider caps the wrapped provider at rps requests per
// second with the given burst allowance.
func NewRateLimitedProvider(inner SceneProvider, rps float64, burst int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

func (p *RateLimitedProvider) FindScenes(ctx context.Context, query SceneQuery) ([]Scene, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", p.inner.Name(), err)
	}
	return p.inner.FindScenes(ctx, query)
}
