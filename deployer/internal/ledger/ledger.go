// Package ledger records deployment runs, the objects each run stored and the
// last known lifecycle state of every distribution.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/edge"
)

var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

type Run struct {
	ID              uuid.UUID
	Name            string
	Status          string
	URL             string
	PlanDigest      string
	Error           string
	FailedResources []string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Outcome closes a run.
type Outcome struct {
	Status          string
	URL             string
	PlanDigest      string
	Error           string
	FailedResources []string
}

type Ledger interface {
	Ping(ctx context.Context) error
	BeginRun(ctx context.Context, name string) (Run, error)
	FinishRun(ctx context.Context, id uuid.UUID, out Outcome) error
	RecordObjects(ctx context.Context, runID uuid.UUID, records []assets.ObjectRecord) error
	LastRun(ctx context.Context, name string) (Run, error)
	// DistributionState returns StateUnprovisioned for unknown names.
	DistributionState(ctx context.Context, name string) (edge.State, error)
	SetDistributionState(ctx context.Context, name string, state edge.State) error
}
