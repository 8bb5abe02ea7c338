// Package transport sends requests to the KRA GavaConnect API and maps
// every failure onto the apierror taxonomy: HTTP status codes become
// authentication, rate-limit, client or server errors, and transport
// failures become timeout or network errors.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is the production GavaConnect endpoint.
	DefaultBaseURL = "https://api.kra.go.ke/gavaconnect/v1"

	// DefaultUserAgent identifies this library.
	DefaultUserAgent = "kra-connect-go/0.1.0"

	// DefaultRetryAfter is assumed when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 60 * time.Second

	// HeaderRequestID carries the per-operation request ID.
	HeaderRequestID = "X-Request-ID"

	maxResponseBytes = 10 << 20
)

// Request is a single call to a KRA endpoint.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Path is the endpoint path relative to the base URL, e.g. "/verify-pin".
	Path string

	// Body is JSON-encoded when non-nil.
	Body any

	// RequestID is sent as X-Request-ID when set.
	RequestID string
}

// Response is a successful (2xx) response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Sender performs a request. Implementations return *apierror.Error (or
// an error classifiable by apierror.ClassOf) for every failure.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Config holds HTTP sender configuration.
type Config struct {
	// BaseURL is prefixed to every request path.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Timeout bounds each HTTP exchange.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// VerifySSL disables certificate verification when false.
	VerifySSL bool
}

// DefaultConfig returns the production configuration without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   30 * time.Second,
		UserAgent: DefaultUserAgent,
		VerifySSL: true,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("API key is required")
	}
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %s)", c.Timeout)
	}
	return nil
}

// HTTPSender is a Sender over net/http, instrumented with OpenTelemetry.
type HTTPSender struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

var _ Sender = (*HTTPSender)(nil)

// Option customises an HTTPSender.
type Option func(*HTTPSender)

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPSender) { s.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *HTTPSender) { s.logger = logger }
}

// NewHTTPSender creates an HTTP sender.
func NewHTTPSender(cfg Config, opts ...Option) (*HTTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	s := &HTTPSender{
		config: cfg,
		logger: log.With().Str("component", "transport").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.httpClient == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if !cfg.VerifySSL {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via KRA_VERIFY_SSL=false
		}
		s.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   cfg.Timeout,
		}
	}

	return s, nil
}

// Send performs req and maps the outcome.
func (s *HTTPSender) Send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := s.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With().
		Str("endpoint", req.Path).
		Str("method", req.Method).
		Str("request_id", req.RequestID).
		Logger()

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		// Caller cancellation is not an API failure.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		classified := classifyTransportError(req.Path, err)
		logger.Error().Err(err).Str("error_class", string(classified.Class)).Msg("HTTP request failed")
		return nil, classified
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		classified := classifyTransportError(req.Path, err)
		logger.Error().Err(err).Msg("Failed to read response body")
		return nil, classified
	}

	logger.Debug().
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Response received")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	apiErr := statusError(req.Path, resp, body)
	logger.Warn().
		Int("status_code", resp.StatusCode).
		Str("error_class", string(apiErr.Class)).
		Msg("KRA request error")
	return nil, apiErr
}

// CloseIdleConnections closes idle keep-alive connections.
func (s *HTTPSender) CloseIdleConnections() {
	s.httpClient.CloseIdleConnections()
}

func (s *HTTPSender) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", s.config.UserAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.RequestID != "" {
		httpReq.Header.Set(HeaderRequestID, req.RequestID)
	}

	return httpReq, nil
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(endpoint string, resp *http.Response, body []byte) *apierror.Error {
	status := resp.StatusCode

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apierror.NewAuthentication(status, endpoint)

	case status == http.StatusTooManyRequests:
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return &apierror.Error{
			Class:      apierror.ClassRateLimit,
			StatusCode: status,
			Message:    messageFrom(body, "rate limit exceeded"),
			Endpoint:   endpoint,
			Err:        &apierror.RateLimitExceededError{RetryAfter: retryAfter},
		}

	case status >= 400 && status < 500:
		return &apierror.Error{
			Class:      apierror.ClassClient,
			StatusCode: status,
			Message:    messageFrom(body, fmt.Sprintf("client error: %d", status)),
			Endpoint:   endpoint,
		}

	case status >= 500:
		return &apierror.Error{
			Class:      apierror.ClassServer,
			StatusCode: status,
			Message:    fmt.Sprintf("server error: %d", status),
			Endpoint:   endpoint,
		}

	default:
		return &apierror.Error{
			Class:      apierror.ClassClient,
			StatusCode: status,
			Message:    fmt.Sprintf("unexpected status code: %d", status),
			Endpoint:   endpoint,
		}
	}
}

// messageFrom extracts the "message" field of a JSON error body.
func messageFrom(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return fallback
	}
	return payload.Message
}

func classifyTransportError(endpoint string, err error) *apierror.Error {
	class := apierror.ClassNetwork

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		class = apierror.ClassTimeout
	}

	return &apierror.Error{
		Class:    class,
		Endpoint: endpoint,
		Err:      err,
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Missing or unusable values yield DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return DefaultRetryAfter
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}

	return DefaultRetryAfter
}
