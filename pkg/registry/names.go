// Package registry is the merge/view engine: it fuses locally
// published package versions with the upstream proxy's view into one
// canonical metadata document (spec.md §4.1).
package registry

import (
	"net/url"
	"strings"
)

// NormalizeName accepts either URL-encoded (%40scope%2Fname) or literal
// (@scope/name) scoped package names and returns the literal form,
// generalizing the teacher's npmEncodePackageName/url.PathUnescape
// pattern (pkg/handlers/npm.go) into one shared helper used by both the
// npm wire surface and the admin JSON API.
func NormalizeName(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	return strings.Trim(decoded, "/")
}

// EncodeForUpstream re-encodes a literal scoped name's "/" as "%2F" for
// upstream requests, mirroring how npm clients address scoped packages.
func EncodeForUpstream(name string) string {
	if strings.HasPrefix(name, "@") && strings.Contains(name, "/") {
		return strings.Replace(name, "/", "%2F", 1)
	}
	return name
}

// Scope returns the organization scope of a package name ("" if
// unscoped). "@acme/util" -> "acme".
func Scope(name string) string {
	if !strings.HasPrefix(name, "@") {
		return ""
	}
	rest := strings.TrimPrefix(name, "@")
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return ""
	}
	return rest[:idx]
}

// IsValidName applies npm's package-naming rules: lowercase, URL-safe,
// optionally scoped as @org/name.
func IsValidName(name string) bool {
	if name == "" || len(name) > 214 {
		return false
	}
	if strings.HasPrefix(name, "@") {
		parts := strings.SplitN(strings.TrimPrefix(name, "@"), "/", 2)
		if len(parts) != 2 {
			return false
		}
		return isValidSegment(parts[0]) && isValidSegment(parts[1])
	}
	return isValidSegment(name)
}

func isValidSegment(s string) bool {
	if s == "" || strings.HasPrefix(s, ".") || strings.HasPrefix(s, "_") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '~':
		default:
			return false
		}
	}
	return true
}
