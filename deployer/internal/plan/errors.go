package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRejected marks a submission the platform refused; it is not retried.
var ErrRejected = errors.New("desired state rejected")

// ProvisioningError names the resource that could not be created or updated.
type ProvisioningError struct {
	Resource string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Resource, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ResourceError is a per-resource failure reported by the platform.
type ResourceError struct {
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

// RejectedError carries the platform's per-resource errors for a refused
// submission.
type RejectedError struct {
	StatusCode int
	Errors     []ResourceError
}

func (e *RejectedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		parts = append(parts, re.Resource+": "+re.Message)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("desired state rejected: status %d", e.StatusCode)
	}
	return fmt.Sprintf("desired state rejected: status %d: %s", e.StatusCode, strings.Join(parts, "; "))
}

func (e *RejectedError) Unwrap() error { return ErrRejected }
