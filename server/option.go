package server

import (
	"log/slog"

	"github.com/Keksclan/rawrcache/auth"
	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// Interceptor slots. Lower slots run first regardless of option order.
const (
	OrderRecovery  = 100
	OrderRequestID = 200
	OrderTracing   = 300
	OrderPolicy    = 400
	OrderAuth      = 500
	OrderRateLimit = 600
	OrderCustom    = 1000
)

type config struct {
	logger   *slog.Logger
	recovery bool
	reqID    bool
	tracing  *tracing.Config
	authFn   auth.AuthFunc
	rps      float64
	burst    int
	groups   []*policy.GroupBuilder
	custom   []grpc.UnaryServerInterceptor
	registry *prometheus.Registry
	grpcOpts []grpc.ServerOption
}

// Option configures a Server.
type Option func(*config)

// DefaultOptions returns the recommended options: panic recovery and
// request ids.
func DefaultOptions() []Option {
	return []Option{WithRecovery(), WithRequestID()}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRecovery turns handler panics into codes.Internal.
func WithRecovery() Option {
	return func(c *config) {
		c.recovery = true
	}
}

// WithRequestID assigns every call a request id, echoed in the
// x-request-id response header.
func WithRequestID() Option {
	return func(c *config) {
		c.reqID = true
	}
}

// WithOpenTelemetry opens a server span per call. A nil cfg uses the otel
// globals.
func WithOpenTelemetry(cfg *tracing.Config) Option {
	return func(c *config) {
		if cfg == nil {
			cfg = &tracing.Config{}
		}
		c.tracing = cfg
	}
}

// WithAuth authenticates calls with fn. Which methods require it is decided
// by WithPolicies; without policies every method does.
func WithAuth(fn auth.AuthFunc) Option {
	return func(c *config) {
		c.authFn = fn
	}
}

// WithBearerTokens is WithAuth(auth.BearerTokens(tokens...)).
func WithBearerTokens(tokens ...string) Option {
	return WithAuth(auth.BearerTokens(tokens...))
}

// WithRateLimitGlobal caps all calls at rps per second with the given burst.
// Groups with a RateLimit policy get their own limiter instead.
func WithRateLimitGlobal(rps float64, burst int) Option {
	return func(c *config) {
		c.rps, c.burst = rps, burst
	}
}

// WithPolicies matches full method names such as
// "/rawrcache.Admin/Invalidate" to rate-limit, auth and timeout policies.
func WithPolicies(groups ...*policy.GroupBuilder) Option {
	return func(c *config) {
		c.groups = append(c.groups, groups...)
	}
}

// WithUnaryInterceptor appends ic after the built-in interceptors.
func WithUnaryInterceptor(ic grpc.UnaryServerInterceptor) Option {
	return func(c *config) {
		c.custom = append(c.custom, ic)
	}
}

// WithMetricsRegistry registers the cache's counters with reg and serves reg
// from MetricsHandler instead of the default registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithGRPCOptions passes extra options to grpc.NewServer, e.g. credentials.
func WithGRPCOptions(opts ...grpc.ServerOption) Option {
	return func(c *config) {
		c.grpcOpts = append(c.grpcOpts, opts...)
	}
}
