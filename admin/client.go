package admin

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls a remote rawrcache.Admin service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Health(ctx context.Context, req *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c.cc, MethodHealth, req, opts)
}

func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c.cc, MethodStats, &StatsRequest{}, opts)
}

func (c *Client) Invalidate(ctx context.Context, req *InvalidateRequest, opts ...grpc.CallOption) (*InvalidateResponse, error) {
	return invoke[InvalidateResponse](ctx, c.cc, MethodInvalidate, req, opts)
}

func (c *Client) Cleanup(ctx context.Context, opts ...grpc.CallOption) (*CleanupResponse, error) {
	return invoke[CleanupResponse](ctx, c.cc, MethodCleanup, &CleanupRequest{}, opts)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts []grpc.CallOption) (*Resp, error) {
	resp := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}
