// Package catalog defines the application-catalogue records served through
// the cache: installed and remote applications, installations and remotes.
//
// The cache treats these values as opaque payloads; the only behaviour they
// carry is the sanity checks applied before a value is persisted.
package catalog

import "strings"

// Application describes one application known to an installation, either
// installed locally or available from a remote.
type Application struct {
	Name        string `json:"name"`
	ID          string `json:"id,omitempty"`
	Version     string `json:"version,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Summary     string `json:"summary,omitempty"`
	InstalledAt int64  `json:"installed_at,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Installation is a location that applications are installed into. The user
// installation lives in the home directory; system installations are shared.
type Installation struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Path        string `json:"path"`
	IsUser      bool   `json:"is_user"`
	Priority    int    `json:"priority,omitempty"`
}

// Remote is a repository configured on an installation.
type Remote struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Valid reports whether the application carries an identifier.
func (a Application) Valid() bool {
	return strings.TrimSpace(a.Name) != ""
}

// Valid reports whether the installation carries an identifier and a path.
func (i Installation) Valid() bool {
	return strings.TrimSpace(i.ID) != "" && strings.TrimSpace(i.Path) != ""
}

// Valid reports whether the remote has a name and a URL.
func (r Remote) Valid() bool {
	return strings.TrimSpace(r.Name) != "" && strings.TrimSpace(r.URL) != ""
}

// validator is satisfied by every record type in this package.
type validator interface {
	Valid() bool
}

// ValidList reports whether every record of a list is valid. An empty list is
// valid: "nothing installed" is a legitimate answer worth caching.
func ValidList[T validator](list []T) bool {
	for _, v := range list {
		if !v.Valid() {
			return false
		}
	}
	return true
}
