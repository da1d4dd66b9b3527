package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Statement is one IAM-style policy statement.
type Statement struct {
	Sid       string                         `json:"Sid,omitempty"`
	Effect    string                         `json:"Effect"`
	Principal map[string]string              `json:"Principal,omitempty"`
	Action    []string                       `json:"Action"`
	Resource  []string                       `json:"Resource"`
	Condition map[string]map[string][]string `json:"Condition,omitempty"`
}

// PolicyDocument is a list of statements in the provider's policy language.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

const PolicyVersion = "2012-10-17"

// Actions returns the sorted, de-duplicated set of actions granted by the document.
func (p PolicyDocument) Actions() []string {
	seen := map[string]bool{}
	var out []string
	for _, st := range p.Statement {
		for _, a := range st.Action {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Resources returns the sorted, de-duplicated set of resources referenced.
func (p PolicyDocument) Resources() []string {
	seen := map[string]bool{}
	var out []string
	for _, st := range p.Statement {
		for _, r := range st.Resource {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Validate rejects documents a platform would refuse or that grant more than a
// single deployment's resources: empty statements, bare wildcards and
// bucket-wide or account-wide resource patterns.
func (p PolicyDocument) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("policy version required")
	}
	if len(p.Statement) == 0 {
		return fmt.Errorf("policy has no statements")
	}
	for i, st := range p.Statement {
		if st.Effect != "Allow" && st.Effect != "Deny" {
			return fmt.Errorf("statement %d: invalid effect %q", i, st.Effect)
		}
		if len(st.Action) == 0 {
			return fmt.Errorf("statement %d: no actions", i)
		}
		for _, a := range st.Action {
			svc, op, ok := strings.Cut(a, ":")
			if !ok || svc == "" || op == "" || svc == "*" || op == "*" {
				return fmt.Errorf("statement %d: invalid action %q", i, a)
			}
		}
		if len(st.Resource) == 0 {
			return fmt.Errorf("statement %d: no resources", i)
		}
		for _, r := range st.Resource {
			if err := validateResource(r); err != nil {
				return fmt.Errorf("statement %d: %w", i, err)
			}
		}
	}
	return nil
}

func validateResource(r string) error {
	if strings.HasPrefix(r, "${") {
		_, err := ParseRef(r)
		return err
	}
	if !strings.HasPrefix(r, "arn:") {
		return fmt.Errorf("resource %q is not an ARN", r)
	}
	parts := strings.SplitN(r, ":", 6)
	if len(parts) < 6 {
		return fmt.Errorf("malformed ARN %q", r)
	}
	name := parts[5]
	if name == "" || name == "*" || strings.HasPrefix(name, "*") || strings.HasSuffix(name, ":*") {
		return fmt.Errorf("wildcard resource %q", r)
	}
	if parts[2] == "s3" && strings.HasSuffix(name, "/*") && !strings.Contains(strings.TrimSuffix(name, "/*"), "/") {
		return fmt.Errorf("bucket-wide resource %q", r)
	}
	return nil
}
