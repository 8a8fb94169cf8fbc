package interceptors

import (
	"context"

	"github.com/Keksclan/rawrcache/contextx"
	"github.com/Keksclan/rawrcache/policy"
	"google.golang.org/grpc"
)

// PolicyUnary records the group a method resolves to in the context and
// bounds the handler by the group's Timeout, when set.
func PolicyUnary(r *policy.Resolver) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		group, _, ok := r.Resolve(info.FullMethod)
		if !ok {
			return handler(ctx, req)
		}
		ctx = contextx.WithGroup(ctx, group)
		if d := r.Timeout(info.FullMethod); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return handler(ctx, req)
	}
}
