package plan

import "context"

// Status values reported by a platform.
const (
	StatusPending   = "pending"
	StatusConverged = "converged"
	StatusFailed    = "failed"
)

// Result is the platform's answer to a submission.
type Result struct {
	Status  string            `json:"status"`
	Outputs map[string]string `json:"outputs"`
	Errors  []ResourceError   `json:"errors,omitempty"`
}

// Submitter hands a desired state to the reconciling platform.
type Submitter interface {
	Submit(ctx context.Context, ds *DesiredState) (*Result, error)
}

// Destroyer is implemented by submitters that can withdraw a stack from the
// platform.
type Destroyer interface {
	Destroy(ctx context.Context, name string) error
}
