package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/edge"
)

func TestMemoryLedgerRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	run, err := l.BeginRun(ctx, "shop")
	require.NoError(t, err)
	require.NoError(t, l.RecordObjects(ctx, run.ID, []assets.ObjectRecord{{StoreKey: "assets/a.js"}}))
	require.NoError(t, l.FinishRun(ctx, run.ID, Outcome{Status: RunSucceeded, URL: "https://d.example"}))

	last, err := l.LastRun(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, last.Status)
	assert.Equal(t, "https://d.example", last.URL)
	assert.False(t, last.FinishedAt.IsZero())
	assert.Len(t, l.Objects(run.ID), 1)
}

func TestMemoryLedgerUnknownRun(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	assert.ErrorIs(t, l.FinishRun(ctx, uuid.New(), Outcome{Status: RunFailed}), ErrNotFound)
	assert.ErrorIs(t, l.RecordObjects(ctx, uuid.New(), nil), ErrNotFound)
	_, err := l.LastRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedgerDistributionState(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	s, err := l.DistributionState(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, edge.StateUnprovisioned, s)

	require.NoError(t, l.SetDistributionState(ctx, "shop", edge.StateLive))
	s, err = l.DistributionState(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, edge.StateLive, s)
}
