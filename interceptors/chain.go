// Package interceptors provides the unary server interceptors the admin
// server is assembled from. The admin service has no streaming methods, so
// there are no stream variants.
package interceptors

import (
	"context"

	"google.golang.org/grpc"
)

// ChainUnary composes interceptors into one. They execute in slice order;
// nil is returned for an empty slice.
func ChainUnary(interceptors []grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		curr := handler
		for i := len(interceptors) - 1; i > 0; i-- {
			next := curr
			ic := interceptors[i]
			curr = func(ctx context.Context, req any) (any, error) {
				return ic(ctx, req, info, next)
			}
		}
		return interceptors[0](ctx, req, info, curr)
	}
}
