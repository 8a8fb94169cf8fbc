// Package auth authenticates admin requests. [BearerTokens] covers the common
// case of a shared operator token; anything else plugs in as an [AuthFunc].
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/Keksclan/rawrcache/contextx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthFunc authenticates one admin call. It receives the full method name and
// the incoming metadata and returns a context, usually carrying a
// [contextx.Actor], or an error. Errors that are not gRPC status errors are
// reported to the client as Unauthenticated.
type AuthFunc func(ctx context.Context, fullMethod string, md metadata.MD) (context.Context, error)

// MetadataKey is the metadata key carrying the credential.
const MetadataKey = "authorization"

// BearerTokens accepts requests whose authorization metadata is
// "Bearer <token>" for one of tokens. The caller becomes an Actor with
// Subject "operator" and a fingerprint of the token. Blank tokens are
// ignored; with none left every request is rejected.
func BearerTokens(tokens ...string) AuthFunc {
	var accepted [][]byte
	for _, tok := range tokens {
		if strings.TrimSpace(tok) != "" {
			accepted = append(accepted, []byte(tok))
		}
	}
	return func(ctx context.Context, _ string, md metadata.MD) (context.Context, error) {
		presented, ok := bearer(md)
		if !ok {
			return ctx, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		for _, tok := range accepted {
			if subtle.ConstantTimeCompare([]byte(presented), tok) == 1 {
				return contextx.WithActor(ctx, contextx.Actor{
					Subject: "operator",
					Token:   fingerprint(presented),
				}), nil
			}
		}
		return ctx, status.Error(codes.Unauthenticated, "invalid bearer token")
	}
}

func bearer(md metadata.MD) (string, bool) {
	vals := md.Get(MetadataKey)
	if len(vals) == 0 {
		return "", false
	}
	scheme, tok, ok := strings.Cut(vals[0], " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

func fingerprint(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:4])
}
