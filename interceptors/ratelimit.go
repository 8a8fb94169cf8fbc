package interceptors

import (
	"context"
	"sync"

	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

// rateLimitState holds the global limiter and the per-group limiters created
// lazily from resolved policies.
type rateLimitState struct {
	global   *ratelimit.Limiter
	resolver *policy.Resolver

	mu     sync.Mutex
	groups map[string]*ratelimit.Limiter
}

// limiterFor returns the limiter of the group fullMethod resolves to when
// that group has a RateLimit rule, and the global limiter otherwise.
func (s *rateLimitState) limiterFor(fullMethod string) *ratelimit.Limiter {
	name, pol, ok := s.resolver.Resolve(fullMethod)
	if !ok || pol == nil || pol.RateLimit == nil || pol.RateLimit.Window <= 0 {
		return s.global
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.groups[name]; ok {
		return l
	}
	rl := pol.RateLimit
	l := ratelimit.NewLimiter(float64(rl.Rate)/rl.Window.Seconds(), rl.Rate)
	s.groups[name] = l
	return l
}

// RateLimitUnary rejects calls with ResourceExhausted once the applicable
// limiter is exhausted. A nil global limiter lets unmatched methods through.
func RateLimitUnary(global *ratelimit.Limiter, r *policy.Resolver) grpc.UnaryServerInterceptor {
	st := &rateLimitState{global: global, resolver: r, groups: make(map[string]*ratelimit.Limiter)}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !st.limiterFor(info.FullMethod).Allow() {
			return nil, errRateLimited
		}
		return handler(ctx, req)
	}
}
