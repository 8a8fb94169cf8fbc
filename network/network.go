// Package network implements the fetch side of the cache: a small HTTP
// contract (Fetch, Post, reachability, bearer auth) and the catalogue
// operations built on top of it.
//
// Every call is fail-soft from the caller's point of view: failures come back
// as errors carrying a github.com/jmgilman/go/errors code, never as panics,
// and the retry loop only repeats attempts whose code is retryable.
package network

import (
	"context"
	"net/url"

	"github.com/Keksclan/rawrcache/catalog"
)

// Client is the generic request contract of the network port.
type Client interface {
	// Fetch performs a GET and returns the response body on a 2xx status.
	Fetch(ctx context.Context, rawURL string, headers map[string]string) (string, error)

	// Post submits form-encoded data and returns the response body on a 2xx
	// status.
	Post(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (string, error)

	// IsNetworkAvailable is a best-effort reachability probe.
	IsNetworkAvailable(ctx context.Context) bool

	// LastResponseCode returns the HTTP status of the most recent attempt, or
	// 0 when it failed before a response arrived.
	LastResponseCode() int

	// SetBearerToken attaches "Authorization: Bearer <token>" to subsequent
	// calls. An empty token clears it.
	SetBearerToken(token string)
}

// Catalog adds the application-catalogue operations to Client.
type Catalog interface {
	Client

	ApplicationsInstalled(ctx context.Context) ([]catalog.Application, error)
	ApplicationsRemote(ctx context.Context, remote string) ([]catalog.Application, error)
	UserInstallation(ctx context.Context) (catalog.Installation, error)
	SystemInstallations(ctx context.Context) ([]catalog.Installation, error)
	Remotes(ctx context.Context, installationID string) ([]catalog.Remote, error)
}
