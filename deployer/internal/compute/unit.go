// Package compute describes the three serverless units of a deployment and
// the least-privilege grants and environment each one is bound to.
package compute

import (
	"fmt"
	"sort"
	"time"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
)

// UnitName identifies one compute unit.
type UnitName string

const (
	UnitServer       UnitName = "server"
	UnitImage        UnitName = "image"
	UnitRevalidation UnitName = "revalidation"
)

// Bundle directories under the build output root.
var bundleDirs = map[UnitName]string{
	UnitServer:       "server-function",
	UnitImage:        "image-optimization-function",
	UnitRevalidation: "revalidation-function",
}

// BundleDir is the unit's code directory relative to the build output root.
func BundleDir(u UnitName) string { return bundleDirs[u] }

// AllUnits lists the units in provisioning order.
func AllUnits() []UnitName {
	return []UnitName{UnitServer, UnitImage, UnitRevalidation}
}

const (
	Runtime = "nodejs20.x"
	Handler = "index.handler"
	// URLAuthNone exposes the invocation URL without platform auth; the edge
	// layer is the trust boundary.
	URLAuthNone = "NONE"
)

// Code points at a packaged bundle in the object store.
type Code struct {
	Key    string `json:"key"`
	Digest string `json:"digest"`
}

// Unit is the desired state of one function.
type Unit struct {
	Name         UnitName          `json:"name"`
	FunctionName string            `json:"functionName"`
	Role         string            `json:"role"`
	Runtime      string            `json:"runtime"`
	Handler      string            `json:"handler"`
	Timeout      time.Duration     `json:"-"`
	TimeoutSec   int               `json:"timeoutSeconds"`
	MemoryMB     int               `json:"memoryMb"`
	PublicURL    bool              `json:"publicUrl"`
	URLAuthType  string            `json:"urlAuthType,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	Grant        Grant             `json:"grant"`
	Code         Code              `json:"code"`
}

// URLDomain references the unit's invocation URL domain once provisioned.
func (u Unit) URLDomain() resource.Ref {
	return resource.Ref{Resource: u.FunctionName, Attribute: resource.AttrURLDomain}
}

// Validate checks the unit before it is submitted.
func (u Unit) Validate() error {
	if u.FunctionName == "" {
		return fmt.Errorf("unit %s: function name required", u.Name)
	}
	if u.Timeout <= 0 || u.MemoryMB <= 0 {
		return fmt.Errorf("unit %s: timeout and memory must be positive", u.Name)
	}
	if u.PublicURL && u.URLAuthType == "" {
		return fmt.Errorf("unit %s: public url without auth type", u.Name)
	}
	if err := u.Grant.Validate(); err != nil {
		return fmt.Errorf("unit %s: %w", u.Name, err)
	}
	return nil
}

// Bindings are the concrete resources the units are wired to.
type Bindings struct {
	Names       resource.Names
	AssetPrefix string
	CachePrefix string
}

// Set is the result of Units.
type Set struct {
	Units []Unit
	// Shadowed lists caller environment keys replaced by required bindings.
	Shadowed []string
}

// Get returns the unit with the given name.
func (s Set) Get(name UnitName) (Unit, bool) {
	for _, u := range s.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// Units builds the server, image and revalidation units. Caller overrides are
// forwarded to the server and image units; required bindings win.
func Units(b Bindings, overrides map[string]string) Set {
	n := b.Names
	set := Set{}
	shadowed := map[string]bool{}

	server := Unit{
		Name:        UnitServer,
		Timeout:     10 * time.Second,
		MemoryMB:    1024,
		PublicURL:   true,
		URLAuthType: URLAuthNone,
		Grant:       serverGrant(b),
	}
	server.Environment = mergeEnv(overrides, map[string]string{
		"CACHE_BUCKET_NAME":         n.Bucket,
		"CACHE_BUCKET_KEY_PREFIX":   b.CachePrefix,
		"CACHE_BUCKET_REGION":       n.Region,
		"REVALIDATION_QUEUE_URL":    n.QueueURL(),
		"REVALIDATION_QUEUE_REGION": n.Region,
	}, shadowed)

	image := Unit{
		Name:        UnitImage,
		Timeout:     25 * time.Second,
		MemoryMB:    1536,
		PublicURL:   true,
		URLAuthType: URLAuthNone,
		Grant:       imageGrant(b),
	}
	image.Environment = mergeEnv(overrides, map[string]string{
		"BUCKET_NAME":       n.Bucket,
		"BUCKET_KEY_PREFIX": b.AssetPrefix,
	}, shadowed)

	reval := Unit{
		Name:     UnitRevalidation,
		Timeout:  30 * time.Second,
		MemoryMB: 128,
		Grant:    revalidationGrant(b),
	}

	for _, u := range []Unit{server, image, reval} {
		u.FunctionName = n.Function(string(u.Name))
		u.Role = n.Role(string(u.Name))
		u.Grant.Principal = u.Role
		u.Runtime = Runtime
		u.Handler = Handler
		u.TimeoutSec = int(u.Timeout / time.Second)
		set.Units = append(set.Units, u)
	}
	for k := range shadowed {
		set.Shadowed = append(set.Shadowed, k)
	}
	sort.Strings(set.Shadowed)
	return set
}

func mergeEnv(overrides, required map[string]string, shadowed map[string]bool) map[string]string {
	out := make(map[string]string, len(overrides)+len(required))
	for k, v := range overrides {
		out[k] = v
	}
	for k, v := range required {
		if _, ok := out[k]; ok {
			shadowed[k] = true
		}
		out[k] = v
	}
	return out
}
