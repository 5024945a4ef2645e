package rate

import "strings"

// Placeholder replaces identifier-like path segments.
const Placeholder = "{id}"

// Normalize collapses identifier-like segments of path to [Placeholder], so
// /orders/123 and /orders/456 share one counter. The query string is dropped
// and the result always starts with a slash and has no trailing slash.
func Normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if isIdentifier(seg) {
			seg = Placeholder
		}
		out = append(out, seg)
	}
	return "/" + strings.Join(out, "/")
}

func isIdentifier(seg string) bool {
	if isDigits(seg) || isUUID(seg) {
		return true
	}
	// Long opaque tokens such as hex ids or base64 references.
	if len(seg) < 16 {
		return false
	}
	digits := 0
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-', c == '_':
		default:
			return false
		}
	}
	return digits > 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHex(c) {
				return false
			}
		}
	}
	return true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
