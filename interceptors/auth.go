package interceptors

import (
	"context"

	"github.com/Keksclan/rawrcache/auth"
	"github.com/Keksclan/rawrcache/policy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var errUnauthenticated = status.Error(codes.Unauthenticated, "unauthenticated")

// authError keeps gRPC status errors and maps anything else to
// Unauthenticated.
func authError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return errUnauthenticated
}

// AuthRequired reports whether fullMethod needs authentication. Without a
// resolver every method does; with one, methods matching a group follow its
// AuthRequired flag and unmatched methods still require authentication.
func AuthRequired(r *policy.Resolver, fullMethod string) bool {
	if r == nil {
		return true
	}
	_, pol, ok := r.Resolve(fullMethod)
	if !ok || pol == nil {
		return true
	}
	return pol.AuthRequired
}

// AuthUnary runs fn before the handler for every method that requires
// authentication according to r.
func AuthUnary(fn auth.AuthFunc, r *policy.Resolver) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !AuthRequired(r, info.FullMethod) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		newCtx, err := fn(ctx, info.FullMethod, md)
		if err != nil {
			return nil, authError(err)
		}
		return handler(newCtx, req)
	}
}
