package rawrcache

import "strings"

// KeySeparator joins an operation name with its parameters.
const KeySeparator = ":"

// Operation names used as cache key prefixes.
const (
	OpApplicationsInstalled = "applications_installed"
	OpApplicationsRemote    = "applications_remote"
	OpUserInstallation      = "user_installation"
	OpSystemInstallations   = "system_installations"
	OpRemotes               = "remotes"
)

// BuildKey joins op and params with KeySeparator, keeping parameter order:
// BuildKey("applications_remote", "flathub") is "applications_remote:flathub".
func BuildKey(op string, params ...string) string {
	if len(params) == 0 {
		return op
	}
	var b strings.Builder
	b.WriteString(op)
	for _, p := range params {
		b.WriteString(KeySeparator)
		b.WriteString(p)
	}
	return b.String()
}
