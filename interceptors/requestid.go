package interceptors

import (
	"context"

	"github.com/Keksclan/rawrcache/contextx"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDKey is the metadata key a request id is read from and echoed in.
const RequestIDKey = "x-request-id"

// RequestIDUnary puts a request id into the context: the caller's
// x-request-id when present, a fresh UUID otherwise. The id is echoed back in
// the response header.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		id := contextx.RequestIDFromContext(ctx)
		if id == "" {
			if md, ok := metadata.FromIncomingContext(ctx); ok {
				if vals := md.Get(RequestIDKey); len(vals) > 0 && vals[0] != "" {
					id = vals[0]
				}
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		// Fails only outside a real gRPC transport, e.g. in unit tests.
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))
		return handler(contextx.WithRequestID(ctx, id), req)
	}
}
