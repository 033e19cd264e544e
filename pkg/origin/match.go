package origin

import (
	"fmt"
	"strings"
)

const wildcardPrefix = "*."

// IsWildcard reports whether p is a "*.<suffix>" pattern.
func IsWildcard(p string) bool { return strings.HasPrefix(p, wildcardPrefix) }

// NormalizePattern validates an allow-list entry. Exact entries are reduced
// with Normalize (a trailing slash or path is dropped); wildcard entries are
// lowercased and must carry a dotted suffix.
func NormalizePattern(p string) (string, error) {
	p = strings.TrimSpace(p)
	if IsWildcard(p) {
		suffix := strings.ToLower(strings.TrimSuffix(p[len(wildcardPrefix):], "."))
		if suffix == "" || strings.ContainsAny(suffix, "/:*") || strings.HasPrefix(suffix, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
		return wildcardPrefix + suffix, nil
	}
	o, ok := Normalize(p)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, p)
	}
	return o, nil
}

// Match reports whether origin o is allowed by any pattern.
//
// Exact patterns compare scheme, host and port. Wildcard patterns compare the
// hostname only: "*.example.com" admits "a.example.com" and "x.y.example.com"
// over any scheme or port, but not "example.com" or "notexample.com".
func Match(o string, patterns []string) bool {
	norm, ok := Normalize(o)
	if !ok {
		return false
	}
	host := Hostname(norm)
	for _, p := range patterns {
		if IsWildcard(p) {
			suffix := strings.ToLower(p[len(wildcardPrefix)-1:]) // keep the leading dot
			if host != "" && strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if exact, ok := Normalize(p); ok && exact == norm {
			return true
		}
	}
	return false
}

// FrameAncestors renders a CSP frame-ancestors source list for patterns.
// An empty list yields 'none'.
func FrameAncestors(patterns []string) string {
	var srcs []string
	for _, p := range patterns {
		if IsWildcard(p) {
			srcs = append(srcs, "http://"+p, "https://"+p)
			continue
		}
		if o, ok := Normalize(p); ok {
			srcs = append(srcs, o)
		}
	}
	if len(srcs) == 0 {
		return "frame-ancestors 'none'"
	}
	return "frame-ancestors " + strings.Join(srcs, " ")
}
