package routing

import "strings"

// MatchPattern reports whether p matches pattern using edge path-pattern
// semantics: '*' matches any run of characters, slashes included, and '?'
// matches exactly one character.
func MatchPattern(pattern, p string) bool {
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(p) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == p[si]):
			pi++
			si++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// covers reports whether every path matched by later is already matched by
// earlier. Only literal and trailing-star patterns are decided; other shapes
// are assumed reachable.
func covers(earlier, later string) bool {
	if earlier == later {
		return true
	}
	if !hasWildcard(later) {
		return MatchPattern(earlier, later)
	}
	prefix, ok := trailingStarPrefix(earlier)
	if !ok {
		return false
	}
	return strings.HasPrefix(literalPrefix(later), prefix)
}

func hasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?")
}

func trailingStarPrefix(p string) (string, bool) {
	if !strings.HasSuffix(p, "*") {
		return "", false
	}
	prefix := strings.TrimSuffix(p, "*")
	if hasWildcard(prefix) {
		return "", false
	}
	return prefix, true
}

func literalPrefix(p string) string {
	if i := strings.IndexAny(p, "*?"); i >= 0 {
		return p[:i]
	}
	return p
}
