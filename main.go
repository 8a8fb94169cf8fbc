// Package rawrcache is a policy-driven read-through cache for application
// catalogue data.
//
// A [Manager] sits between callers and two ports: a [storage.Storage] that
// keeps serialized entries with an expiry, and a [network.Catalog] that
// fetches fresh data upstream. The active [CachePolicy] decides, per request,
// which of the two is consulted and in what order:
//
//	m, err := rawrcache.NewBuilder().
//		BaseURL("https://catalogue.example.org").
//		DefaultTTL(10 * time.Minute).
//		Policy(rawrcache.CacheFirst).
//		Build()
//	if err != nil { ... }
//	defer m.Close()
//	if err := m.Initialize(ctx); err != nil { ... }
//	apps, ok := m.GetApplicationsInstalled(ctx, false)
//
// Every lookup is fail-soft: callers get either a usable value or ok=false.
// Faults are reported through the configured slog.Logger, the [Observer]
// hooks and [Metrics].
package rawrcache

import (
	"fmt"
	"strings"
)

// CachePolicy selects the lookup path for a request.
type CachePolicy int

const (
	// CacheFirst serves from storage and falls through to the network on a
	// miss, writing the fetched value back.
	CacheFirst CachePolicy = iota
	// NetworkFirst asks the network and falls back to storage when the fetch
	// fails. Successful fetches are not written back.
	NetworkFirst
	// CacheOnly never touches the network.
	CacheOnly
	// NetworkOnly never touches storage.
	NetworkOnly
)

var policyNames = [...]string{
	CacheFirst:   "CACHE_FIRST",
	NetworkFirst: "NETWORK_FIRST",
	CacheOnly:    "CACHE_ONLY",
	NetworkOnly:  "NETWORK_ONLY",
}

// Valid reports whether p is one of the defined policies.
func (p CachePolicy) Valid() bool {
	return p >= CacheFirst && p <= NetworkOnly
}

func (p CachePolicy) String() string {
	if !p.Valid() {
		return fmt.Sprintf("CachePolicy(%d)", int(p))
	}
	return policyNames[p]
}

// ParseCachePolicy parses a policy name such as "CACHE_FIRST" or
// "network-only". Matching ignores case, dashes and underscores.
func ParseCachePolicy(s string) (CachePolicy, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range policyNames {
		if norm == name || norm == strings.ReplaceAll(name, "_", "") {
			return CachePolicy(i), nil
		}
	}
	return 0, fmt.Errorf("rawrcache: unknown cache policy %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler so policies can be read
// from the environment.
func (p *CachePolicy) UnmarshalText(text []byte) error {
	v, err := ParseCachePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p CachePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
