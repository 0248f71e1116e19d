package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
	"github.com/yndnr/sessionkeep-go/internal/infra/buildinfo"
	"github.com/yndnr/sessionkeep-go/internal/infra/tlsroots"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/metric"
)

// DefaultBaseURL is the identity endpoint used when none is configured.
const DefaultBaseURL = "http://localhost:8000/api"

// maxBodyBytes bounds every response body the client reads.
const maxBodyBytes = 1 << 20

// Endpoint paths relative to the base URL.
const (
	PathToken    = "/token/"
	PathRefresh  = "/token/refresh/"
	PathProfile  = "/user/profile/"
	PathRegister = "/register/"
	PathLogout   = "/logout/"
)

// Operation names used in logs and metrics.
const (
	OpAuthenticate = "authenticate"
	OpRefresh      = "refresh"
	OpProfile      = "profile"
	OpRegister     = "register"
	OpRevoke       = "revoke"
)

// Config configures the identity client.
type Config struct {
	// BaseURL is the API root, e.g. https://id.example.com/api.
	// http:// is assumed when no scheme is given.
	BaseURL string

	// Timeout bounds each request, including reading the body.
	Timeout time.Duration

	// RateLimit caps outbound requests per second. Zero disables pacing.
	RateLimit float64

	// RateBurst is the limiter bucket size.
	RateBurst int

	// CAFile adds a PEM bundle to the system roots.
	CAFile string

	// ClientCert and ClientKey enable mutual TLS. Both files are watched
	// and reloaded on rotation.
	ClientCert string
	ClientKey  string

	// UserAgent overrides the default sessionkeep/<version>.
	UserAgent string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   10 * time.Second,
		RateLimit: 5,
		RateBurst: 5,
	}
}

// StatusError carries the HTTP status of an unexpected response.
// It is the cause of ErrRequestFailed.
type StatusError struct {
	Operation  string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Operation, e.StatusCode)
}

// Client talks to the identity endpoint.
type Client struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    logger.Logger
	metrics   *metric.Registry
	keyPair   *tlsroots.KeyPair
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records per-operation counts and latency.
func WithMetrics(m *metric.Registry) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates an identity client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if (cfg.ClientCert == "") != (cfg.ClientKey == "") {
		return nil, domain.ErrInvalidArgument.WithDetails("client_cert and client_key must be set together")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	var keyPair *tlsroots.KeyPair
	if cfg.CAFile != "" || cfg.ClientCert != "" {
		pool, err := tlsroots.NewPool()
		if err != nil {
			return nil, err
		}
		if cfg.CAFile != "" {
			if err := pool.AddCertFile(cfg.CAFile); err != nil {
				return nil, err
			}
		}
		transport.TLSClientConfig = pool.TLSConfig()

		if cfg.ClientCert != "" {
			keyPair, err = tlsroots.LoadKeyPair(cfg.ClientCert, cfg.ClientKey)
			if err != nil {
				return nil, err
			}
			transport.TLSClientConfig = pool.ClientAuthConfig(keyPair)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "sessionkeep/" + buildinfo.Version
	}

	c := &Client{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout, Transport: transport},
		limiter:   limiter,
		userAgent: userAgent,
		logger:    logger.Default(),
		keyPair:   keyPair,
	}
	for _, opt := range opts {
		opt(c)
	}

	if keyPair != nil {
		if err := keyPair.Watch(); err != nil {
			c.logger.Warn("client certificate will not be reloaded", "error", err)
		}
	}
	return c, nil
}

// Close stops the client certificate watcher, if any.
func (c *Client) Close() error {
	if c.keyPair == nil {
		return nil
	}
	return c.keyPair.Close()
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do performs one exchange. Only transport-level problems are returned as
// errors; every HTTP status is left to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, body any, bearer string) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.ErrNetwork.WithDetails(op).WithCause(err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, domain.ErrInvalidArgument.WithDetails("encode " + op + " request").WithCause(err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("build " + op + " request").WithCause(err)
	}

	requestID := logger.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("identity request failed",
			"operation", op, "request_id", requestID, "error", err)
		return nil, domain.ErrNetwork.WithDetails(op).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, domain.ErrNetwork.WithDetails(op + ": read response").WithCause(err)
	}
	if len(data) > maxBodyBytes {
		return nil, domain.ErrRequestFailed.WithDetails(op + ": response exceeds 1 MiB")
	}

	c.logger.Debug("identity request",
		"operation", op,
		"status", resp.StatusCode,
		"request_id", requestID,
		"elapsed", time.Since(start))

	return &response{status: resp.StatusCode, body: data}, nil
}

// observe records the outcome of op. Called deferred with the named error.
func (c *Client) observe(op string, start time.Time, err *error) {
	c.metrics.RecordIdentityRequest(op, Outcome(*err), time.Since(start).Seconds())
}

// Outcome classifies an identity error for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrRefreshRejected):
		return "refresh_rejected"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNetwork):
		return "network"
	default:
		return "request_failed"
	}
}

func requestFailed(op string, resp *response) error {
	return domain.ErrRequestFailed.
		WithDetails(fmt.Sprintf("%s: HTTP %d", op, resp.status)).
		WithCause(&StatusError{Operation: op, StatusCode: resp.status, Detail: parseErrorBody(resp.body).Detail})
}

func malformed(op string, err error) error {
	return domain.ErrRequestFailed.WithDetails(op + ": malformed response").WithCause(err)
}

// parseErrorBody reads a DRF-style error body: {"detail": "..."} and/or
// {"field": ["msg", ...]}. Field values may also be a bare string.
// Anything unparseable yields an empty ValidationError.
func parseErrorBody(body []byte) *domain.ValidationError {
	ve := domain.NewValidationError()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return ve
	}

	for field, value := range raw {
		var msgs []string
		if err := json.Unmarshal(value, &msgs); err != nil {
			var one string
			if err := json.Unmarshal(value, &one); err != nil {
				continue
			}
			msgs = []string{one}
		}
		if field == domain.FieldDetail {
			ve.Detail = strings.Join(msgs, " ")
			continue
		}
		ve.Add(field, msgs...)
	}
	return ve
}

// describe renders an error body as a single line for error details.
func describe(body []byte) string {
	ve := parseErrorBody(body)
	if ve.Detail != "" {
		return ve.Detail
	}

	parts := make([]string, 0, len(ve.Fields))
	for _, f := range ve.FieldNames() {
		parts = append(parts, f+": "+strings.Join(ve.Fields[f], " "))
	}
	return strings.Join(parts, "; ")
}
