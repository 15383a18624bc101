// Package arr provides minimal clients for the Sonarr, Radarr and Overseerr
// APIs used when removing media.
package arr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/reclaimarr/reclaimarr/internal/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	//nolint:gosec // header name constant, not a credential
	apiKeyHeader = "X-Api-Key"
)

// Config contains connection settings for one service.
type Config struct {
	URL           string `json:"url" mapstructure:"url"`
	APIKey        string `json:"apiKey" mapstructure:"api_key"`
	Timeout       int    `json:"timeout" mapstructure:"timeout"`
	SkipSSLVerify bool   `json:"skipSslVerify" mapstructure:"skip_ssl_verify"`
}

// Enabled reports whether the service has been configured.
func (c Config) Enabled() bool {
	return c.URL != "" && c.APIKey != ""
}

// BreakerConfig tunes the circuit breaker wrapped around every client.
type BreakerConfig struct {
	FailureThreshold uint32        `json:"failureThreshold" mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `json:"openTimeout" mapstructure:"open_timeout"`
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Minute}
}

// HealthCategory is the health category the clients report under.
const HealthCategory = "services"

// HealthReporter receives breaker transitions as health status changes.
type HealthReporter interface {
	RegisterItemStr(category, id, name string)
	SetErrorStr(category, id, message string)
	SetWarningStr(category, id, message string)
	ClearStatusStr(category, id string)
}

// Option configures a service client.
type Option func(*options)

type options struct {
	health HealthReporter
}

// WithHealth reports breaker state changes to h.
func WithHealth(h HealthReporter) Option {
	return func(o *options) { o.health = h }
}

// client is the HTTP transport shared by the service clients. Calls go
// through a circuit breaker so a dead service fails fast during a sweep.
type client struct {
	service    string
	statusPath string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     zerolog.Logger
}

func newClient(service, statusPath string, cfg Config, breaker BreakerConfig, logger zerolog.Logger, opts []Option) (*client, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", service, ErrNotConfigured)
	}

	baseURL := strings.TrimSuffix(cfg.URL, "/")

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	transport := &http.Transport{}
	if cfg.SkipSSLVerify {
		//nolint:gosec // admin-configured endpoint, TLS verification optional
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if breaker.FailureThreshold == 0 {
		breaker = DefaultBreakerConfig()
	}

	logger = logger.With().
		Str("component", service+"-client").
		Str("url", baseURL).
		Logger()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &client{
		service:    service,
		statusPath: statusPath,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    service,
		Timeout: breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, int(to))
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			reportState(o.health, name, to)
		},
	})

	metrics.SetCircuitBreakerState(service, int(gobreaker.StateClosed))
	if o.health != nil {
		o.health.RegisterItemStr(HealthCategory, service, displayName(service))
	}
	return c, nil
}

func reportState(h HealthReporter, service string, state gobreaker.State) {
	if h == nil {
		return
	}
	switch state {
	case gobreaker.StateOpen:
		h.SetErrorStr(HealthCategory, service, "circuit open after repeated failures")
	case gobreaker.StateHalfOpen:
		h.SetWarningStr(HealthCategory, service, "recovering, probing with limited requests")
	default:
		h.ClearStatusStr(HealthCategory, service)
	}
}

func displayName(service string) string {
	if service == "" {
		return service
	}
	return strings.ToUpper(service[:1]) + service[1:]
}

// Ping checks that the service answers its status endpoint with the
// configured key.
func (c *client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.statusPath, nil)
	return err
}

// State returns the circuit breaker state.
func (c *client) State() gobreaker.State {
	return c.breaker.State()
}

// do executes a request and returns the response body. body is JSON-encoded
// when non-nil.
func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	metrics.RecordExternalRequest(c.service, err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %v", c.service, ErrUnavailable, err)
	}
	return data, err
}

func (c *client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return nil, fmt.Errorf("%s request failed: %w", c.service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Service:    c.service,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), 200),
		}
	}
	return data, nil
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.service, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
