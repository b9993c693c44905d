// Package gcloud contains thin REST clients for the Google Cloud APIs the
// browser renders. Every list operation follows the same composition:
// build a cache key, consult the cache, and on a miss run the HTTP call
// through the retry executor before caching the mapped records.
package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	sequel "github.com/dan-elliott-appneta/sequel"
	"github.com/dan-elliott-appneta/sequel/cache"
	"github.com/dan-elliott-appneta/sequel/credentials"
	"github.com/dan-elliott-appneta/sequel/retry"
	"github.com/dan-elliott-appneta/sequel/telemetry"
)

// Default API endpoints, overridable for tests.
const (
	DefaultResourceManagerURL = "https://cloudresourcemanager.googleapis.com"
	DefaultComputeURL         = "https://compute.googleapis.com"
	DefaultContainerURL       = "https://container.googleapis.com"
	DefaultSQLAdminURL        = "https://sqladmin.googleapis.com"
	DefaultDNSURL             = "https://dns.googleapis.com"
	DefaultIAMURL             = "https://iam.googleapis.com"
	DefaultSecretManagerURL   = "https://secretmanager.googleapis.com"

	// DefaultProjectTTL is how long project listings stay cached.
	DefaultProjectTTL = 10 * time.Minute

	// DefaultResourceTTL is how long leaf resource listings stay cached.
	DefaultResourceTTL = 5 * time.Minute
)

// Config holds client configuration.
type Config struct {
	// Credentials resolves the bearer token for each request. Required.
	Credentials credentials.Provider

	// Cache holds fetched listings. Required.
	Cache *cache.Cache

	// Retry executes the remote calls. Required.
	Retry *retry.Executor

	// HTTPClient is the underlying client. The per-attempt deadline is
	// enforced by the retry executor's context, so no client timeout is
	// set by default.
	HTTPClient *http.Client

	// Logger for request events.
	Logger *slog.Logger

	// ProjectTTL and ResourceTTL are the cache TTLs per resource
	// category. Zero means the defaults.
	ProjectTTL  time.Duration
	ResourceTTL time.Duration

	// Endpoint overrides, for tests.
	ResourceManagerURL string
	ComputeURL         string
	ContainerURL       string
	SQLAdminURL        string
	DNSURL             string
	IAMURL             string
	SecretManagerURL   string
}

// Client calls the Google Cloud REST APIs and caches mapped results.
type Client struct {
	creds  credentials.Provider
	cache  *cache.Cache
	retry  *retry.Executor
	client *http.Client
	logger *slog.Logger

	projectTTL  time.Duration
	resourceTTL time.Duration

	resourceManagerURL string
	computeURL         string
	containerURL       string
	sqlAdminURL        string
	dnsURL             string
	iamURL             string
	secretManagerURL   string

	group singleflight.Group
}

// New creates a client from the configuration.
func New(cfg Config) *Client {
	c := &Client{
		creds:              cfg.Credentials,
		cache:              cfg.Cache,
		retry:              cfg.Retry,
		client:             cfg.HTTPClient,
		logger:             cfg.Logger,
		projectTTL:         cfg.ProjectTTL,
		resourceTTL:        cfg.ResourceTTL,
		resourceManagerURL: cfg.ResourceManagerURL,
		computeURL:         cfg.ComputeURL,
		containerURL:       cfg.ContainerURL,
		sqlAdminURL:        cfg.SQLAdminURL,
		dnsURL:             cfg.DNSURL,
		iamURL:             cfg.IAMURL,
		secretManagerURL:   cfg.SecretManagerURL,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.projectTTL <= 0 {
		c.projectTTL = DefaultProjectTTL
	}
	if c.resourceTTL <= 0 {
		c.resourceTTL = DefaultResourceTTL
	}
	if c.resourceManagerURL == "" {
		c.resourceManagerURL = DefaultResourceManagerURL
	}
	if c.computeURL == "" {
		c.computeURL = DefaultComputeURL
	}
	if c.containerURL == "" {
		c.containerURL = DefaultContainerURL
	}
	if c.sqlAdminURL == "" {
		c.sqlAdminURL = DefaultSQLAdminURL
	}
	if c.dnsURL == "" {
		c.dnsURL = DefaultDNSURL
	}
	if c.iamURL == "" {
		c.iamURL = DefaultIAMURL
	}
	if c.secretManagerURL == "" {
		c.secretManagerURL = DefaultSecretManagerURL
	}
	return c
}

// errorDocument is the error body Google APIs return on failure.
type errorDocument struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// getJSON performs a GET against a Google API and decodes the response
// into out. Failures are returned as *sequel.APIError so the retry layer
// can classify them.
func (c *Client) getJSON(ctx context.Context, service, rawURL string, params url.Values, out any) error {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.creds.Token(ctx)
	if err != nil {
		// Normalise so the retry layer sees an auth failure and can
		// trigger a credential refresh.
		return &sequel.APIError{
			StatusCode: http.StatusUnauthorized,
			Status:     "UNAUTHENTICATED",
			Message:    fmt.Sprintf("resolving access token: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		telemetry.RecordAPIRequest(ctx, service, "error", time.Since(start))
		return fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.RecordAPIRequest(ctx, service, "http_"+strconv.Itoa(resp.StatusCode), time.Since(start))
		return c.apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		telemetry.RecordAPIRequest(ctx, service, "decode_error", time.Since(start))
		return fmt.Errorf("decoding response: %w", err)
	}

	telemetry.RecordAPIRequest(ctx, service, "ok", time.Since(start))
	return nil
}

// apiError maps an error response into the normalised *sequel.APIError.
func (c *Client) apiError(resp *http.Response) error {
	apiErr := &sequel.APIError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiErr
	}

	var doc errorDocument
	if err := json.Unmarshal(body, &doc); err == nil && doc.Error.Code != 0 {
		apiErr.Status = doc.Error.Status
		apiErr.Message = doc.Error.Message
		if len(doc.Error.Errors) > 0 {
			apiErr.Reason = doc.Error.Errors[0].Reason
		}
	} else if len(body) > 0 {
		apiErr.Message = string(body)
	}

	return apiErr
}

// Invalidate removes one cached query, forcing the next call to hit the
// API.
func (c *Client) Invalidate(key sequel.Key) {
	c.cache.Invalidate(key.String())
}

// InvalidateProject removes every cached query scoped to the project and
// returns how many entries were dropped. Matching on the key's scope
// segment covers child listings (instances, node pools, record sets) as
// well as the eagerly loaded kinds.
func (c *Client) InvalidateProject(project string) int {
	return c.cache.InvalidateFunc(func(key string) bool {
		return sequel.Key(key).Scope() == project
	})
}

// CacheStats exposes a read-only snapshot of the cache counters for
// status displays.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}
