// Package admin exposes a running cache over gRPC: health, statistics,
// invalidation and cleanup. The service is registered through a hand-written
// [grpc.ServiceDesc] so that no protobuf code generation is required; its
// messages are plain Go structs carried by a JSON codec selected with the
// "json" content subtype.
package admin

import (
	"context"
	"strings"

	"github.com/Keksclan/rawrcache"
	"github.com/dustin/go-humanize"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rawrcache.Admin"

// Full method names, as seen by server interceptors and policy resolvers.
const (
	MethodHealth     = "/" + ServiceName + "/Health"
	MethodStats      = "/" + ServiceName + "/Stats"
	MethodInvalidate = "/" + ServiceName + "/Invalidate"
	MethodCleanup    = "/" + ServiceName + "/Cleanup"
)

type HealthRequest struct {
	// CheckNetwork also probes the upstream catalogue.
	CheckNetwork bool `json:"check_network,omitempty"`
}

type HealthResponse struct {
	Healthy          bool   `json:"healthy"`
	NetworkAvailable bool   `json:"network_available,omitempty"`
	Policy           string `json:"policy"`
}

type StatsRequest struct{}

type StatsResponse struct {
	rawrcache.MetricsSnapshot
	HitRatio      float64 `json:"hit_ratio"`
	CacheSize     string  `json:"cache_size"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// InvalidateRequest removes Key, or every entry when All is set.
type InvalidateRequest struct {
	Key string `json:"key,omitempty"`
	All bool   `json:"all,omitempty"`
}

type InvalidateResponse struct {
	CacheSizeBytes int64 `json:"cache_size_bytes"`
}

type CleanupRequest struct{}

type CleanupResponse struct {
	Removed        int64 `json:"removed"`
	CacheSizeBytes int64 `json:"cache_size_bytes"`
}

// Handler is the interface an Admin service implementation must satisfy.
type Handler interface {
	Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error)
	Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error)
	Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error)
	Cleanup(ctx context.Context, req *CleanupRequest) (*CleanupResponse, error)
}

// Cache is the part of *rawrcache.Manager the service drives.
type Cache interface {
	IsHealthy() bool
	IsNetworkAvailable(ctx context.Context) bool
	CachePolicy() rawrcache.CachePolicy
	Metrics() rawrcache.MetricsSnapshot
	CacheSize(ctx context.Context) int64
	InvalidateKey(ctx context.Context, key string) bool
	InvalidateAll(ctx context.Context) bool
	ForceCleanup(ctx context.Context) int64
}

var _ Cache = (*rawrcache.Manager)(nil)

// NewHandler returns the Handler backed by c.
func NewHandler(c Cache) Handler { return &service{cache: c} }

type service struct {
	cache Cache
}

func (s *service) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	resp := &HealthResponse{
		Healthy: s.cache.IsHealthy(),
		Policy:  s.cache.CachePolicy().String(),
	}
	if req.CheckNetwork {
		resp.NetworkAvailable = s.cache.IsNetworkAvailable(ctx)
	}
	return resp, nil
}

func (s *service) Stats(ctx context.Context, _ *StatsRequest) (*StatsResponse, error) {
	snap := s.cache.Metrics()
	return &StatsResponse{
		MetricsSnapshot: snap,
		HitRatio:        snap.HitRatio(),
		CacheSize:       humanize.IBytes(uint64(max(snap.CacheSizeBytes, 0))),
		UptimeSeconds:   int64(snap.Uptime().Seconds()),
	}, nil
}

func (s *service) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	var ok bool
	switch {
	case req.All:
		ok = s.cache.InvalidateAll(ctx)
	case strings.TrimSpace(req.Key) == "":
		return nil, status.Error(codes.InvalidArgument, "key is required unless all is set")
	default:
		ok = s.cache.InvalidateKey(ctx, req.Key)
	}
	if !ok {
		return nil, status.Error(codes.Unavailable, "invalidation failed")
	}
	return &InvalidateResponse{CacheSizeBytes: s.cache.CacheSize(ctx)}, nil
}

func (s *service) Cleanup(ctx context.Context, _ *CleanupRequest) (*CleanupResponse, error) {
	if !s.cache.IsHealthy() {
		return nil, status.Error(codes.Unavailable, "cache not initialized")
	}
	n := s.cache.ForceCleanup(ctx)
	return &CleanupResponse{Removed: n, CacheSizeBytes: s.cache.CacheSize(ctx)}, nil
}

// ServiceDesc is the grpc.ServiceDesc for the rawrcache.Admin service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: unary(MethodHealth, Handler.Health)},
		{MethodName: "Stats", Handler: unary(MethodStats, Handler.Stats)},
		{MethodName: "Invalidate", Handler: unary(MethodInvalidate, Handler.Invalidate)},
		{MethodName: "Cleanup", Handler: unary(MethodCleanup, Handler.Cleanup)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rawrcache/admin.proto",
}

// unary adapts one Handler method to the grpc.MethodDesc handler shape.
func unary[Req, Resp any](fullMethod string, call func(Handler, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Handler), ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, r any) (any, error) {
			return call(srv.(Handler), ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// Register registers an Admin service implementation on s.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}
