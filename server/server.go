// Package server runs the cache admin service over gRPC with an ordered
// interceptor chain and a Prometheus metrics handler.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/Keksclan/rawrcache/admin"
	"github.com/Keksclan/rawrcache/interceptors"
	"github.com/Keksclan/rawrcache/internal/core"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/Keksclan/rawrcache/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

// Server serves rawrcache.Admin for one cache.
//
//	srv, err := server.New(manager,
//		server.WithRecovery(),
//		server.WithBearerTokens(os.Getenv("ADMIN_TOKEN")),
//		server.WithRateLimitGlobal(20, 5),
//	)
//	go srv.Serve(lis)
//	http.Handle("/metrics", srv.MetricsHandler())
type Server struct {
	grpcServer  *grpc.Server
	registry    *prometheus.Registry
	logger      *slog.Logger
	middlewares []string
}

// New builds the server and registers the admin service for cache on it.
func New(cache admin.Cache, opts ...Option) (*Server, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	resolver := policy.NewResolver(cfg.groups...)

	var mw core.MiddlewareBuilder
	if cfg.recovery {
		mw.Add(OrderRecovery, "recovery", interceptors.RecoveryUnary(cfg.logger))
	}
	if cfg.reqID {
		mw.Add(OrderRequestID, "request_id", interceptors.RequestIDUnary())
	}
	if cfg.tracing != nil {
		mw.Add(OrderTracing, "tracing", tracing.UnaryServerInterceptor(cfg.tracing))
	}
	if len(cfg.groups) > 0 {
		mw.Add(OrderPolicy, "policy", interceptors.PolicyUnary(resolver))
	}
	if cfg.authFn != nil {
		mw.Add(OrderAuth, "auth", interceptors.AuthUnary(cfg.authFn, resolver))
	}
	if cfg.rps > 0 || len(cfg.groups) > 0 {
		mw.Add(OrderRateLimit, "rate_limit",
			interceptors.RateLimitUnary(ratelimit.NewLimiter(cfg.rps, cfg.burst), resolver))
	}
	for i, ic := range cfg.custom {
		mw.Add(OrderCustom, fmt.Sprintf("custom_%d", i), ic)
	}

	if cfg.registry != nil {
		if err := cfg.registry.Register(metrics.NewCollector(cache)); err != nil {
			return nil, fmt.Errorf("server: register cache collector: %w", err)
		}
	}

	serverOpts := append(core.BuildServerOptions(mw.Build(), interceptors.ChainUnary), cfg.grpcOpts...)
	s := &Server{
		grpcServer:  grpc.NewServer(serverOpts...),
		registry:    cfg.registry,
		logger:      cfg.logger,
		middlewares: mw.Names(),
	}
	admin.Register(s.grpcServer, admin.NewHandler(cache))
	return s, nil
}

// GRPC returns the underlying *grpc.Server so more services can be
// registered next to the admin service.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Middlewares returns the installed interceptors in execution order.
func (s *Server) Middlewares() []string {
	return s.middlewares
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("admin server listening",
		slog.String("addr", lis.Addr().String()),
		slog.Any("middlewares", s.middlewares))
	return s.grpcServer.Serve(lis)
}

// GracefulStop waits for in-flight calls to finish.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Stop closes all connections immediately.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// MetricsHandler serves Prometheus metrics: the registry given with
// WithMetricsRegistry, or the default registry.
func (s *Server) MetricsHandler() http.Handler {
	if s.registry != nil {
		return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
