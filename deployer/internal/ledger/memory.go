package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/edge"
)

type MemoryLedger struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]Run
	objects map[uuid.UUID][]assets.ObjectRecord
	states  map[string]edge.State
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		runs:    map[uuid.UUID]Run{},
		objects: map[uuid.UUID][]assets.ObjectRecord{},
		states:  map[string]edge.State{},
	}
}

func (m *MemoryLedger) Ping(ctx context.Context) error { return nil }

func (m *MemoryLedger) BeginRun(ctx context.Context, name string) (Run, error) {
	run := Run{ID: uuid.New(), Name: name, Status: RunRunning, StartedAt: time.Now().UTC()}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return run, nil
}

func (m *MemoryLedger) FinishRun(ctx context.Context, id uuid.UUID, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Status = out.Status
	run.URL = out.URL
	run.PlanDigest = out.PlanDigest
	run.Error = out.Error
	run.FailedResources = append([]string(nil), out.FailedResources...)
	run.FinishedAt = time.Now().UTC()
	m.runs[id] = run
	return nil
}

func (m *MemoryLedger) RecordObjects(ctx context.Context, runID uuid.UUID, records []assets.ObjectRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	m.objects[runID] = append(m.objects[runID], records...)
	return nil
}

// Objects returns the records stored for a run.
func (m *MemoryLedger) Objects(runID uuid.UUID) []assets.ObjectRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]assets.ObjectRecord(nil), m.objects[runID]...)
}

func (m *MemoryLedger) LastRun(ctx context.Context, name string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		last  Run
		found bool
	)
	for _, r := range m.runs {
		if r.Name != name {
			continue
		}
		if !found || r.StartedAt.After(last.StartedAt) {
			last, found = r, true
		}
	}
	if !found {
		return Run{}, ErrNotFound
	}
	return last, nil
}

func (m *MemoryLedger) DistributionState(ctx context.Context, name string) (edge.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[name]; ok {
		return s, nil
	}
	return edge.StateUnprovisioned, nil
}

func (m *MemoryLedger) SetDistributionState(ctx context.Context, name string, state edge.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = state
	return nil
}
