// Package ornl sends subset requests to the ORNL DAAC MODIS/VIIRS web service.
package ornl

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/modisviirs/subsetd/internal/provider/resilience"
	"github.com/modisviirs/subsetd/internal/subset"
)

const (
	// ProviderName identifies the web service in the resilience registry.
	ProviderName = "ornl"

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "subsetd/1.0"

	// maxBodySize caps a single response. A full year of all bands over a wide window stays
	// well below this.
	maxBodySize = 64 << 20
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the ORNL client.
type ClientConfig struct {
	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client implements subset.Transport over HTTP.
type Client struct {
	httpClient HTTPDoer
	userAgent  string
	logger     zerolog.Logger
}

// NewClient creates a new ORNL client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Logger = cfg.Logger
		httpClient = resilience.NewClient(rc)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Do sends req as a GET with the given Accept header and returns the body and status code.
// Non-success statuses are not errors here; the caller decides how to report them.
func (c *Client) Do(ctx context.Context, req subset.Request, accept string) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL(), http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, resp.StatusCode, fmt.Errorf("reading response: body exceeds %d bytes", maxBodySize)
	}

	c.logger.Debug().
		Str("shape", req.Shape.String()).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("ornl response")

	return body, resp.StatusCode, nil
}

var _ subset.Transport = (*Client)(nil)
