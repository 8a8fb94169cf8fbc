package policy

import "time"

// Resolver holds a set of groups and resolves a name to the best-matching
// group and its policy. A nil *Resolver matches nothing.
type Resolver struct {
	groups []*GroupBuilder
}

// NewResolver creates a Resolver from the supplied group builders.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve finds the best-matching group for name.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - When two matches have equal kind and length the group that was
//     registered first wins.
func (res *Resolver) Resolve(name string) (groupName string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	bestKind := matchKind(-1)
	bestLen := -1

	for _, g := range res.groups {
		for _, r := range g.rules {
			matched, mLen := r.match(name)
			if !matched {
				continue
			}
			better := bestKind < 0 ||
				r.kind < bestKind ||
				(r.kind == bestKind && mLen > bestLen)
			if better {
				bestKind = r.kind
				bestLen = mLen
				groupName = g.name
				pol = g.policy
				ok = true
			}
		}
	}
	return groupName, pol, ok
}

// TTL returns the TTL override for key, or def when no matching group sets
// one.
func (res *Resolver) TTL(key string, def time.Duration) time.Duration {
	if _, pol, ok := res.Resolve(key); ok && pol != nil && pol.TTL > 0 {
		return pol.TTL
	}
	return def
}

// Timeout returns the timeout for name, or zero when none applies.
func (res *Resolver) Timeout(name string) time.Duration {
	if _, pol, ok := res.Resolve(name); ok && pol != nil {
		return pol.Timeout
	}
	return 0
}
