// Package client provides the KRA GavaConnect client. Every operation runs
// through one pipeline: validate input, look up the cache, acquire rate
// limit capacity, call the API under the retry policy, then store the
// result.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/cache"
	"github.com/BerjisTech/kra-connect-go/pkg/clock"
	"github.com/BerjisTech/kra-connect-go/pkg/ratelimit"
	"github.com/BerjisTech/kra-connect-go/pkg/retry"
	"github.com/BerjisTech/kra-connect-go/pkg/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BerjisTech/kra-connect-go/pkg/client"

// Client is the main KRA client. It is safe for concurrent use; the cache
// and rate limiter are shared by all operations issued through it.
type Client struct {
	sender  transport.Sender
	cache   *cache.Manager
	limiter ratelimit.Limiter
	retry   *retry.Policy
	clock   clock.Clock
	tracer  trace.Tracer
	config  Config
	logger  zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Transport configures the HTTP sender (API key, base URL, timeout).
	Transport transport.Config

	// Cache configures result caching.
	Cache cache.Config

	// RateLimit configures client-side request admission.
	RateLimit ratelimit.Config

	// Retry configures backoff for transient failures.
	Retry retry.Config

	// MaxConcurrency bounds parallel requests in batch operations.
	MaxConcurrency int
}

// DefaultConfig returns a safe default configuration for apiKey.
func DefaultConfig(apiKey string) Config {
	tc := transport.DefaultConfig()
	tc.APIKey = apiKey

	return Config{
		Transport:      tc,
		Cache:          cache.DefaultConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
		Retry:          retry.DefaultConfig(),
		MaxConcurrency: 10,
	}
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1 (got %d)", c.MaxConcurrency)
	}
	return nil
}

// Option customises a Client.
type Option func(*options)

type options struct {
	sender       transport.Sender
	store        cache.Store
	clock        clock.Clock
	logger       *zerolog.Logger
	tracer       trace.TracerProvider
	retryOptions []retry.Option
}

// WithSender replaces the HTTP sender. The transport configuration is then
// not validated.
func WithSender(s transport.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithCacheStore replaces the in-memory cache backend.
func WithCacheStore(s cache.Store) Option {
	return func(o *options) { o.store = s }
}

// WithClock drives cache expiry, rate limiting and retry sleeps from c.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used by the client and its components.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithRetryOptions passes extra options to the retry policy.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOptions = append(o.retryOptions, opts...) }
}

// New creates a new KRA client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		clock:  clock.New(),
		tracer: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	base := log.Logger
	if o.logger != nil {
		base = *o.logger
	}
	component := func(name string) zerolog.Logger {
		return base.With().Str("component", name).Logger()
	}
	logger := component("kra-client")

	sender := o.sender
	if sender == nil {
		s, err := transport.NewHTTPSender(cfg.Transport, transport.WithLogger(component("transport")))
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		sender = s
	}

	cacheOpts := []cache.Option{cache.WithClock(o.clock), cache.WithLogger(component("cache"))}
	if o.store != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(o.store))
	}
	cacheManager, err := cache.NewManager(cfg.Cache, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	limiter, err := ratelimit.New(cfg.RateLimit,
		ratelimit.WithClock(o.clock),
		ratelimit.WithLogger(component("ratelimit")),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	retryOpts := append([]retry.Option{
		retry.WithClock(o.clock),
		retry.WithLogger(component("retry")),
	}, o.retryOptions...)
	policy, err := retry.New(cfg.Retry, retryOpts...)
	if err != nil {
		return nil, fmt.Errorf("create retry policy: %w", err)
	}

	logger.Info().
		Str("base_url", cfg.Transport.BaseURL).
		Bool("cache_enabled", cfg.Cache.Enabled).
		Bool("rate_limit_enabled", cfg.RateLimit.Enabled).
		Str("rate_limit_algorithm", string(cfg.RateLimit.Algorithm)).
		Int("max_attempts", cfg.Retry.MaxAttempts).
		Msg("KRA client initialized")

	return &Client{
		sender:  sender,
		cache:   cacheManager,
		limiter: limiter,
		retry:   policy,
		clock:   o.clock,
		tracer:  o.tracer.Tracer(tracerName),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Cache returns the cache manager.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Limiter returns the rate limiter.
func (c *Client) Limiter() ratelimit.Limiter {
	return c.limiter
}

// Close releases idle connections held by the HTTP sender.
func (c *Client) Close() error {
	if closer, ok := c.sender.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	return nil
}

// operation describes one logical API call.
type operation[T any] struct {
	// name labels logs, metrics and spans, e.g. "verify_pin".
	name string

	// request is sent on a cache miss.
	request transport.Request

	// cacheKey enables caching when non-empty.
	cacheKey string

	// ttl overrides the configured cache TTL when non-zero.
	ttl time.Duration

	// decode turns a successful response into the result.
	decode func(*transport.Response) (T, error)
}

// execute runs op through the request pipeline.
func execute[T any](ctx context.Context, c *Client, op operation[T]) (T, error) {
	var zero T

	ctx, span := c.tracer.Start(ctx, "kra."+op.name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kra.operation", op.name),
			attribute.String("kra.endpoint", op.request.Path),
		),
	)
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("kra.request_id", requestID))
	logger := c.logger.With().
		Str("operation", op.name).
		Str("request_id", requestID).
		Logger()

	start := time.Now()
	defer func() {
		RequestDuration.WithLabelValues(op.name).Observe(time.Since(start).Seconds())
	}()

	fetched := false
	load := func(ctx context.Context) (any, error) {
		fetched = true
		v, err := fetch(ctx, c, &op, requestID)
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	var (
		value any
		err   error
	)
	if op.cacheKey != "" {
		value, err = c.cache.GetOrSet(ctx, op.cacheKey, load, op.ttl)
	} else {
		value, err = load(ctx)
	}

	if err != nil {
		class := apierror.ClassOf(err)
		RequestsTotal.WithLabelValues(op.name, statusLabel(class)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, op.name+" failed")
		logger.Error().Err(err).Str("error_class", string(class)).Msg("KRA request failed")
		return zero, err
	}

	if !fetched && op.cacheKey != "" {
		RequestsTotal.WithLabelValues(op.name, "cache_hit").Inc()
		span.SetAttributes(attribute.Bool("kra.cache_hit", true))
		logger.Debug().Str("cache_key", op.cacheKey).Msg("Returning cached result")
	} else {
		RequestsTotal.WithLabelValues(op.name, "success").Inc()
	}
	span.SetStatus(codes.Ok, op.name+" completed")

	result, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("cached value for %s has type %T", op.name, value)
	}
	return result, nil
}

// fetch acquires rate limit capacity and calls the API under the retry
// policy.
func fetch[T any](ctx context.Context, c *Client, op *operation[T], requestID string) (T, error) {
	var zero T

	granted, err := c.limiter.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	if !granted {
		return zero, &apierror.RateLimitExceededError{RetryAfter: c.config.RateLimit.Window}
	}

	var result T
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		req := op.request
		req.RequestID = requestID

		resp, err := c.sender.Send(ctx, &req)
		if err != nil {
			return err
		}

		result, err = op.decode(resp)
		if err != nil {
			return fmt.Errorf("%s: %w", op.name, err)
		}
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

func statusLabel(class apierror.Class) string {
	if class == "" {
		return "error"
	}
	return string(class)
}
