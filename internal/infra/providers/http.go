package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/croplens/croplens/internal/infra/resilience"
)

// HTTPCatalogConfig points at one STAC-style catalog endpoint.
type HTTPCatalogConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPCatalogProvider queries a scene catalog over HTTP. Throttling and
// server-side failures are marked transient; client errors fail fast.
type HTTPCatalogProvider struct {
	cfg    HTTPCatalogConfig
	client *http.Client
}

var _ SceneProvider = (*HTTPCatalogProvider)(nil)

// NewHTTPCatalogProvider creates a provider with its own bounded client.
func NewHTTPCatalogProvider(cfg HTTPCatalogConfig) *HTTPCatalogProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCatalogProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPCatalogProvider) Name() string { return p.cfg.Name }

func (p *HTTPCatalogProvider) FindScenes(ctx context.Context, query SceneQuery) ([]Scene, error) {
	req, err := p.buildRequest(ctx, query)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Network-level failures are worth retrying.
		return nil, resilience.MarkTransient(fmt.Errorf("catalog %s request: %w", p.cfg.Name, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resilience.MarkTransient(fmt.Errorf("catalog %s returned %d", p.cfg.Name, resp.StatusCode))
	default:
		return nil, fmt.Errorf("catalog %s returned %d", p.cfg.Name, resp.StatusCode)
	}

	var payload struct {
		Scenes []Scene `json:"scenes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s response: %w", p.cfg.Name, err)
	}
	for i := range payload.Scenes {
		payload.Scenes[i].Provider = p.cfg.Name
	}
	return payload.Scenes, nil
}

func (p *HTTPCatalogProvider) buildRequest(ctx context.Context, query SceneQuery) (*http.Request, error) {
	params := url.Values{}
	params.Set("aoi_id", query.AOIID.String())
	params.Set("from", query.From.Format(time.RFC3339))
	params.Set("to", query.To.Format(time.RFC3339))
	if query.Collection != "" {
		params.Set("collection", query.Collection)
	}
	if query.MaxCloudCover > 0 {
		params.Set("max_cloud_cover", fmt.Sprintf("%.2f", query.MaxCloudCover))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/search?%s", p.cfg.BaseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog %s request: %w", p.cfg.Name, err)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
