// Package client provides the HTTP client for the hardware metadata API.
// One Client owns one keep-alive connection pool for its whole lifetime.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/detectmap/pkg/links"
	"github.com/Sternrassler/detectmap/pkg/logging"
	"github.com/Sternrassler/detectmap/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public hardware metadata API.
const DefaultBaseURL = "https://hardware.api.keil.arm.com"

// maxDrainBytes bounds how much of an error body is read so the connection can be reused.
const maxDrainBytes = 64 << 10

// Prometheus metrics for upstream API operations.
var (
	upstreamRequestsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "detectmap_upstream_requests_total",
		Help: "Total upstream API requests by HTTP status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.With(metrics.Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "detectmap_upstream_request_duration_seconds",
		Help:    "Upstream API request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	upstreamErrorsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "detectmap_upstream_errors_total",
		Help: "Total upstream API errors by class",
	}, []string{"class"})
)

// Client performs GET requests against the hardware metadata API.
type Client struct {
	httpClient *http.Client
	links      *links.Absolutizer
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the scheme and host every relative href is resolved against
	BaseURL string

	// UserAgent header sent with every request
	UserAgent string

	// Timeout per request (0 disables the timeout)
	Timeout time.Duration

	// MaxIdleConns bounds the keep-alive pool shared by all requests
	MaxIdleConns int
}

// DefaultConfig returns the configuration for the public API.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		UserAgent:    userAgent,
		Timeout:      30 * time.Second,
		MaxIdleConns: 8,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	absolutizer, err := links.New(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 8
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConns

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			// Redirects surface as non-200 FetchErrors instead of being followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		links:  absolutizer,
		config: cfg,
		logger: logging.NewLogger("api-client"),
	}, nil
}

// BaseURL returns the scheme+host prefix used for relative hrefs.
func (c *Client) BaseURL() string {
	return c.links.Base()
}

// Links returns the absolutizer bound to the client's base URL.
func (c *Client) Links() *links.Absolutizer {
	return c.links
}

// Get issues a GET for href and returns the response body.
// href may be a path ("/boards/1") or an absolute URL. Any status other
// than 200 yields a *FetchError.
func (c *Client) Get(ctx context.Context, href string) ([]byte, error) {
	target, err := c.links.Absolute(href)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/hal+json, application/json")

	c.logger.Debug().
		Str("path", href).
		Msg("Executing API request")

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Str("path", href).Msg("HTTP request failed")
		return nil, fmt.Errorf("get %s: %w", href, err)
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		errClass := c.classifyError(resp, nil)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

		c.logger.Warn().
			Str("path", href).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("API request error")

		return nil, &FetchError{
			Path:       href,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			ErrorClass: errClass,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, fmt.Errorf("read %s: %w", href, err)
	}

	c.logger.Debug().
		Str("path", href).
		Int("bytes", len(body)).
		Dur("duration", time.Since(startTime)).
		Msg("API request complete")

	return body, nil
}

// GetJSON issues a GET for href and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, href string, v any) error {
	body, err := c.Get(ctx, href)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &DecodeError{Path: href, Err: err}
	}
	return nil
}

// classifyError categorizes a failed request for observability.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return ""
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}

// Close releases the idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
