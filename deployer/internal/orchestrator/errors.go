package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDestroyed is returned when deploying a name whose distribution was
// destroyed.
var ErrDestroyed = errors.New("distribution destroyed")

// ResourceFailure is one resource the run could not reconcile.
type ResourceFailure struct {
	Resource string
	Err      error
}

func (f ResourceFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Resource, f.Err)
}

func (f ResourceFailure) Unwrap() error { return f.Err }

// DeployError lists every resource that could not be reconciled. Whatever
// did succeed stays in place, so the run can simply be repeated.
type DeployError struct {
	Failures []ResourceFailure
}

func (e *DeployError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Resource)
	}
	return fmt.Sprintf("deploy incomplete, %d resources failed: %s", len(e.Failures), strings.Join(names, ", "))
}

func (e *DeployError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// Resources returns the names of the failed resources.
func (e *DeployError) Resources() []string {
	out := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Resource)
	}
	return out
}
