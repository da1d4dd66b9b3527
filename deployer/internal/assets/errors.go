package assets

import (
	"fmt"
	"strings"
)

// ObjectFailure is one artifact that could not be brought up to date.
type ObjectFailure struct {
	StoreKey string
	Err      error
}

func (f ObjectFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.StoreKey, f.Err)
}

func (f ObjectFailure) Unwrap() error { return f.Err }

// SyncError aggregates every per-object failure of one sync. It is returned
// only after all other transfers were attempted.
type SyncError struct {
	Failures []ObjectFailure
}

func (e *SyncError) Error() string {
	if len(e.Failures) == 1 {
		return "sync failed for " + e.Failures[0].Error()
	}
	keys := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		keys = append(keys, f.StoreKey)
	}
	return fmt.Sprintf("sync failed for %d objects: %s", len(e.Failures), strings.Join(keys, ", "))
}

func (e *SyncError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}
