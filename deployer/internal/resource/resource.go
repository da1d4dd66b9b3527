// Package resource holds the naming conventions and cross-resource references
// shared by every part of the desired-state description.
package resource

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Attributes a platform reports back once a resource has converged.
const (
	AttrARN         = "arn"
	AttrDomainName  = "domainName"
	AttrFunctionURL = "functionUrl"
	AttrURLDomain   = "functionUrlDomain"
	AttrQueueURL    = "queueUrl"
)

// Ref points at an attribute that only exists after provisioning, such as a
// function's invocation URL. It serialises as "${resource.attribute}".
type Ref struct {
	Resource  string
	Attribute string
}

func (r Ref) String() string {
	return "${" + r.Resource + "." + r.Attribute + "}"
}

// Key is the lookup key of the ref in a platform's output map.
func (r Ref) Key() string {
	return r.Resource + "." + r.Attribute
}

func (r Ref) IsZero() bool {
	return r.Resource == "" && r.Attribute == ""
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(r.String())
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*r = Ref{}
		return nil
	}
	ref, err := ParseRef(s)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// ParseRef is the inverse of Ref.String.
func ParseRef(s string) (Ref, error) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return Ref{}, fmt.Errorf("invalid ref %q", s)
	}
	inner := s[2 : len(s)-1]
	i := strings.LastIndexByte(inner, '.')
	if i <= 0 || i == len(inner)-1 {
		return Ref{}, fmt.Errorf("invalid ref %q", s)
	}
	return Ref{Resource: inner[:i], Attribute: inner[i+1:]}, nil
}

// Resolve looks the ref up in a platform output map.
func (r Ref) Resolve(outputs map[string]string) (string, bool) {
	v, ok := outputs[r.Key()]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// Sanitize lowercases s and collapses anything outside [a-z0-9-] into a dash.
func Sanitize(s string) string {
	s = invalidNameChars.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// Names derives every physical resource name and ARN from the stack name so
// that re-running against the same inputs addresses the same resources.
type Names struct {
	Stack   string
	Bucket  string
	Region  string
	Account string
}

// NewNames sanitises the stack name and defaults the bucket to "<stack>-assets".
func NewNames(stack, bucket, region, account string) Names {
	stack = Sanitize(stack)
	if bucket == "" {
		bucket = stack + "-assets"
	}
	return Names{Stack: stack, Bucket: bucket, Region: region, Account: account}
}

// Validate reports the first missing naming input.
func (n Names) Validate() error {
	switch {
	case n.Stack == "":
		return fmt.Errorf("stack name required")
	case n.Bucket == "":
		return fmt.Errorf("bucket name required")
	case n.Region == "":
		return fmt.Errorf("region required")
	case n.Account == "":
		return fmt.Errorf("account id required")
	}
	return nil
}

// Logical resource identifiers inside the desired state.
func (n Names) BucketID() string       { return n.Stack + "-bucket" }
func (n Names) QueueID() string        { return n.Stack + "-revalidation-queue" }
func (n Names) DistributionID() string { return n.Stack + "-distribution" }

func (n Names) Function(unit string) string { return n.Stack + "-" + unit }
func (n Names) Role(unit string) string     { return n.Stack + "-" + unit + "-role" }

func (n Names) QueueName() string { return n.Stack + "-revalidation.fifo" }

func (n Names) BucketARN() string { return "arn:aws:s3:::" + n.Bucket }

// ObjectARN scopes to every key under prefix.
func (n Names) ObjectARN(prefix string) string {
	return n.BucketARN() + "/" + strings.Trim(prefix, "/") + "/*"
}

func (n Names) QueueARN() string {
	return fmt.Sprintf("arn:aws:sqs:%s:%s:%s", n.Region, n.Account, n.QueueName())
}

func (n Names) QueueURL() string {
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", n.Region, n.Account, n.QueueName())
}

func (n Names) BucketRegionalDomain() string {
	return fmt.Sprintf("%s.s3.%s.amazonaws.com", n.Bucket, n.Region)
}
