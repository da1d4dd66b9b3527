package routing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTable wraps every validation failure.
var ErrInvalidTable = errors.New("invalid routing table")

// Table is evaluated top to bottom; the first matching rule wins. The default
// rule is always the last element.
type Table []Rule

// DefaultTable returns the precedence list for a server-rendered app. The
// order is load-bearing: API and data routes must beat the static catch-alls.
func DefaultTable() Table {
	return Table{
		newRule("api/*", OriginServer, true),
		newRule("_next/data/*", OriginServer, false),
		newRule("_next/image*", OriginImage, false),
		newRule("BUILD_ID", OriginStatic, false),
		newRule("favicon.ico", OriginStatic, false),
		newRule("robots.txt", OriginStatic, false),
		newRule("_next/static/*", OriginStatic, false),
		newRule("", OriginServer, true),
	}
}

// Default returns the catch-all rule.
func (t Table) Default() (Rule, bool) {
	if len(t) == 0 || !t[len(t)-1].IsDefault() {
		return Rule{}, false
	}
	return t[len(t)-1], true
}

// Behaviors returns the ordered non-default rules.
func (t Table) Behaviors() []Rule {
	out := make([]Rule, 0, len(t))
	for _, r := range t {
		if !r.IsDefault() {
			out = append(out, r)
		}
	}
	return out
}

// Origins returns the distinct origins referenced by the table, in first-use order.
func (t Table) Origins() []OriginID {
	seen := map[OriginID]bool{}
	var out []OriginID
	for _, r := range t {
		if !seen[r.Origin] {
			seen[r.Origin] = true
			out = append(out, r.Origin)
		}
	}
	return out
}

// Match returns the first rule matching the request path and its index. A
// leading slash is ignored. The default rule matches when nothing else does.
func (t Table) Match(requestPath string) (Rule, int) {
	p := strings.TrimPrefix(requestPath, "/")
	for i, r := range t {
		if r.IsDefault() || MatchPattern(r.PathPattern, p) {
			return r, i
		}
	}
	return Rule{}, -1
}

// Validate checks the structural invariants of the table.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidTable)
	}
	defaults := 0
	for i, r := range t {
		if r.IsDefault() {
			defaults++
			if i != len(t)-1 {
				return fmt.Errorf("%w: default rule at position %d is not last", ErrInvalidTable, i+1)
			}
		}
		if err := validateRule(r); err != nil {
			return fmt.Errorf("%w: rule %d (%q): %v", ErrInvalidTable, i+1, r.PathPattern, err)
		}
	}
	if defaults != 1 {
		return fmt.Errorf("%w: want exactly one default rule, have %d", ErrInvalidTable, defaults)
	}
	for j := 1; j < len(t)-1; j++ {
		for i := 0; i < j; i++ {
			if covers(t[i].PathPattern, t[j].PathPattern) {
				return fmt.Errorf("%w: rule %d (%q) is unreachable behind rule %d (%q)",
					ErrInvalidTable, j+1, t[j].PathPattern, i+1, t[i].PathPattern)
			}
		}
	}
	return nil
}

func validateRule(r Rule) error {
	if !r.Origin.Valid() {
		return fmt.Errorf("unknown origin %q", r.Origin)
	}
	if strings.HasPrefix(r.PathPattern, "/") {
		return fmt.Errorf("pattern must not start with a slash")
	}
	want := readOnlyMethods
	if r.Mutable {
		want = allMethods
	}
	if !sameSet(r.AllowedMethods, want) {
		return fmt.Errorf("allowed methods %v do not match mutable=%t", r.AllowedMethods, r.Mutable)
	}
	if !subset(r.CachedMethods, r.AllowedMethods) {
		return fmt.Errorf("cached methods %v not allowed", r.CachedMethods)
	}
	if r.RequestTransform == TransformHostRewrite && r.Origin != OriginServer {
		return fmt.Errorf("host rewrite only applies to the server origin")
	}
	return nil
}
