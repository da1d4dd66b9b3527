// Package routing builds and validates the ordered edge routing table.
package routing

import "sort"

// OriginID names one of the three upstreams the edge forwards to.
type OriginID string

const (
	OriginServer OriginID = "server"
	OriginImage  OriginID = "image"
	OriginStatic OriginID = "static"
)

func (o OriginID) Valid() bool {
	switch o {
	case OriginServer, OriginImage, OriginStatic:
		return true
	}
	return false
}

// CachePolicy selects how the edge keys and stores responses for a rule.
type CachePolicy string

const (
	// CachePolicyServer forwards query strings, cookies and the forwarded host
	// and honours origin cache headers.
	CachePolicyServer CachePolicy = "server"
	// CachePolicyImage forwards query strings only (width, quality, url).
	CachePolicyImage CachePolicy = "image"
	// CachePolicyStatic forwards nothing and caches by path.
	CachePolicyStatic CachePolicy = "static"
)

// RequestTransform is a viewer-request function attached to a rule.
type RequestTransform string

const (
	TransformNone RequestTransform = ""
	// TransformHostRewrite copies the viewer Host header into x-forwarded-host.
	TransformHostRewrite RequestTransform = "host-rewrite"
)

var (
	readOnlyMethods = []string{"GET", "HEAD", "OPTIONS"}
	allMethods      = []string{"DELETE", "GET", "HEAD", "OPTIONS", "PATCH", "POST", "PUT"}
	cachedMethods   = []string{"GET", "HEAD"}
)

// ReadOnlyMethods returns the methods allowed on immutable rules.
func ReadOnlyMethods() []string { return append([]string(nil), readOnlyMethods...) }

// AllMethods returns the methods allowed on mutable rules, sorted.
func AllMethods() []string { return append([]string(nil), allMethods...) }

// Rule maps a path pattern to an origin. An empty PathPattern marks the
// default rule.
type Rule struct {
	PathPattern      string           `json:"pathPattern,omitempty"`
	Origin           OriginID         `json:"origin"`
	AllowedMethods   []string         `json:"allowedMethods"`
	CachedMethods    []string         `json:"cachedMethods"`
	CachePolicy      CachePolicy      `json:"cachePolicy"`
	Compress         bool             `json:"compress"`
	RequestTransform RequestTransform `json:"requestTransform,omitempty"`
	Mutable          bool             `json:"mutable"`
}

func (r Rule) IsDefault() bool { return r.PathPattern == "" }

func newRule(pattern string, origin OriginID, mutable bool) Rule {
	r := Rule{
		PathPattern:   pattern,
		Origin:        origin,
		CachedMethods: append([]string(nil), cachedMethods...),
		Compress:      true,
		Mutable:       mutable,
	}
	if mutable {
		r.AllowedMethods = AllMethods()
	} else {
		r.AllowedMethods = ReadOnlyMethods()
	}
	switch origin {
	case OriginServer:
		r.CachePolicy = CachePolicyServer
		r.RequestTransform = TransformHostRewrite
	case OriginImage:
		r.CachePolicy = CachePolicyImage
	default:
		r.CachePolicy = CachePolicyStatic
	}
	return r
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func subset(small, big []string) bool {
	in := make(map[string]bool, len(big))
	for _, m := range big {
		in[m] = true
	}
	for _, m := range small {
		if !in[m] {
			return false
		}
	}
	return true
}
