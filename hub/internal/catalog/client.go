package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/fleetops/deployhub/pkg/types"
)

// ReadCache caches entity lookups between evaluation passes so the registry
// is not hit once per entity per pass.
type ReadCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// ClientConfig holds configuration for the remote registry client.
type ClientConfig struct {
	BaseURL   string        // e.g. "https://registry.internal/api/v1"
	AuthToken string        // Bearer token for authentication
	Timeout   time.Duration // HTTP timeout (default: 30s)
	RateLimit int           // Requests per minute (default: 120)

	Cache    ReadCache     // optional; nil disables caching
	CacheTTL time.Duration // entity lookup TTL (default: 30s)
}

// Client reads entities from a remote registry over HTTP.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authToken   string
	rateLimiter *rate.Limiter
	cache       ReadCache
	cacheTTL    time.Duration
	logger      *slog.Logger
}

// NewClient creates a rate-limited registry client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 120
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		authToken:   cfg.AuthToken,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), 1),
		cache:       cfg.Cache,
		cacheTTL:    cacheTTL,
		logger:      logger.With("component", "catalog_client"),
	}
}

// apiResponse is the registry's envelope: {"data": ...} or {"error": "..."}.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

func (c *Client) query(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if envelope.Error != "" {
		return fmt.Errorf("registry returned error: %s", envelope.Error)
	}
	if envelope.Data == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// GetEntity fetches one entity, served from the read cache when fresh.
// Returns nil, nil when the registry has no record for the ID.
func (c *Client) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	key := "entity:" + id
	if c.cache != nil {
		var cached types.Entity
		hit, err := c.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			c.logger.Warn("entity cache read failed", "entity_id", id, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	var entity *types.Entity
	if err := c.query(ctx, "/entities/"+url.PathEscape(id), nil, &entity); err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}

	if entity != nil && c.cache != nil {
		if err := c.cache.SetJSON(ctx, key, entity, c.cacheTTL); err != nil {
			c.logger.Warn("entity cache write failed", "entity_id", id, "error", err)
		}
	}
	return entity, nil
}

// ListEntities fetches entities matching the filter.
func (c *Client) ListEntities(ctx context.Context, filter Filter) ([]*types.Entity, error) {
	params := url.Values{}
	if filter.Environment != "" {
		params.Set("environment", filter.Environment)
	}
	if filter.ClusterID != "" {
		params.Set("cluster_id", filter.ClusterID)
	}
	if filter.ProductID != "" {
		params.Set("product_id", filter.ProductID)
	}

	var entities []*types.Entity
	if err := c.query(ctx, "/entities", params, &entities); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	c.logger.Debug("catalog listing", "count", len(entities))
	return entities, nil
}
