// Package policy maps names to per-name settings using exact, prefix and
// regex rules. The cache manager resolves cache keys (for example
// "applications_remote:flathub") to TTL and fetch-timeout overrides; the
// admin server resolves full gRPC method names to rate-limit and auth
// requirements.
package policy

import (
	"regexp"
	"time"
)

// RateLimitRule describes a rate-limiting policy for a group of names.
type RateLimitRule struct {
	// Rate is the maximum number of requests allowed within Window.
	Rate int
	// Window is the time window for the rate limit.
	Window time.Duration
}

// Policy holds the settings that apply to a matched group.
type Policy struct {
	// TTL overrides the default lifetime of cache entries whose key matches.
	// Zero keeps the default.
	TTL time.Duration

	// Timeout bounds the whole upstream fetch (all attempts) for a matching
	// cache key, or the handler for a matching admin method.
	Timeout time.Duration

	RateLimit    *RateLimitRule
	AuthRequired bool
}

// matchKind distinguishes the three matching strategies.
type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindRegex                   // lowest priority
)

type rule struct {
	kind    matchKind
	pattern string         // exact and prefix
	re      *regexp.Regexp // regex
}

// GroupBuilder constructs a named group with one or more matching rules and
// a policy.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts building a new group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact adds an exact-match rule for pattern.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix adds a prefix-match rule for pattern.
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex adds a regex-match rule for pattern.
// The pattern is compiled immediately; an invalid regex will panic.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// Policy attaches a Policy to the group and returns the finished builder.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
