package assets

import (
	"path"
	"strings"
)

// CachePolicyClass decides the Cache-Control header of a stored object.
type CachePolicyClass int

const (
	// Unversioned objects may change under the same key: edge-cacheable but
	// revalidated, never cached by browsers.
	Unversioned CachePolicyClass = iota
	// Versioned objects live under build-fingerprinted paths and never change.
	Versioned
)

// VersionedNamespace is where the framework writes build-fingerprinted files.
const VersionedNamespace = "_next/static"

const (
	CacheControlVersioned   = "public,max-age=31536000,immutable"
	CacheControlUnversioned = "public,max-age=0,s-maxage=31536000,must-revalidate"
)

func (c CachePolicyClass) String() string {
	if c == Versioned {
		return "versioned"
	}
	return "unversioned"
}

// CacheControl is the header value stored with objects of this class.
func (c CachePolicyClass) CacheControl() string {
	if c == Versioned {
		return CacheControlVersioned
	}
	return CacheControlUnversioned
}

// Classify returns Versioned iff the cleaned path is strictly below
// VersionedNamespace. The namespace root itself is Unversioned.
func Classify(relativePath string) CachePolicyClass {
	p := path.Clean("/" + relativePath)
	root := "/" + VersionedNamespace + "/"
	if strings.HasPrefix(p, root) && len(p) > len(root) {
		return Versioned
	}
	return Unversioned
}
