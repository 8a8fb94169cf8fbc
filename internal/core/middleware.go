// Package core orders the admin server's interceptors. Options may be passed
// in any order; each interceptor carries a fixed slot and the builder sorts
// by it.
package core

import (
	"cmp"
	"slices"

	"google.golang.org/grpc"
)

type middleware struct {
	name  string
	unary grpc.UnaryServerInterceptor
	order int
}

// MiddlewareBuilder collects interceptors with their slot. Lower slots run
// first; equal slots keep registration order.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers ic at order. Adding a name that is already present replaces
// the earlier entry, so repeating an option does not stack interceptors.
func (b *MiddlewareBuilder) Add(order int, name string, ic grpc.UnaryServerInterceptor) {
	if ic == nil {
		return
	}
	if i := slices.IndexFunc(b.entries, func(m middleware) bool { return name != "" && m.name == name }); i >= 0 {
		b.entries[i] = middleware{name: name, unary: ic, order: order}
		return
	}
	b.entries = append(b.entries, middleware{name: name, unary: ic, order: order})
}

// Names returns the registered names in execution order.
func (b *MiddlewareBuilder) Names() []string {
	sorted := b.sorted()
	names := make([]string, len(sorted))
	for i, m := range sorted {
		names[i] = m.name
	}
	return names
}

// Build returns the interceptors in execution order.
func (b *MiddlewareBuilder) Build() []grpc.UnaryServerInterceptor {
	sorted := b.sorted()
	out := make([]grpc.UnaryServerInterceptor, len(sorted))
	for i, m := range sorted {
		out[i] = m.unary
	}
	return out
}

func (b *MiddlewareBuilder) sorted() []middleware {
	s := slices.Clone(b.entries)
	slices.SortStableFunc(s, func(a, c middleware) int {
		return cmp.Compare(a.order, c.order)
	})
	return s
}

// BuildServerOptions chains the interceptors with chain and returns the
// grpc.ServerOption installing them, or none for an empty chain.
func BuildServerOptions(
	unary []grpc.UnaryServerInterceptor,
	chain func([]grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor,
) []grpc.ServerOption {
	if u := chain(unary); u != nil {
		return []grpc.ServerOption{grpc.UnaryInterceptor(u)}
	}
	return nil
}
