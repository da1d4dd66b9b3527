package edge

import (
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// State is a distribution lifecycle state.
type State string

const (
	StateUnprovisioned State = "unprovisioned"
	StateProvisioning  State = "provisioning"
	StateLive          State = "live"
	StateUpdating      State = "updating"
	StateDestroyed     State = "destroyed"
)

// Lifecycle events.
const (
	EventSubmit    statekit.EventType = "SUBMIT"
	EventConverged statekit.EventType = "CONVERGED"
	EventDestroy   statekit.EventType = "DESTROY"
)

const machineID = "distribution"

var (
	stUnprovisioned = statekit.StateID(StateUnprovisioned)
	stProvisioning  = statekit.StateID(StateProvisioning)
	stLive          = statekit.StateID(StateLive)
	stUpdating      = statekit.StateID(StateUpdating)
	stDestroyed     = statekit.StateID(StateDestroyed)
)

// transitions mirrors the machine graph so rejected events surface as errors
// before reaching the interpreter. Re-submitting while a change is still
// converging keeps the state.
var transitions = map[State]map[statekit.EventType]State{
	StateUnprovisioned: {EventSubmit: StateProvisioning},
	StateProvisioning:  {EventSubmit: StateProvisioning, EventConverged: StateLive, EventDestroy: StateDestroyed},
	StateLive:          {EventSubmit: StateUpdating, EventDestroy: StateDestroyed},
	StateUpdating:      {EventSubmit: StateUpdating, EventConverged: StateLive, EventDestroy: StateDestroyed},
	StateDestroyed:     {},
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// History is the machine context: every transition taken since creation or
// restore.
type History struct {
	Transitions []Transition
	current     State
}

// Lifecycle drives a distribution through provisioning, updates and
// teardown. Events that the current state does not accept are errors.
type Lifecycle struct {
	interp *statekit.Interpreter[*History]
	hist   *History
}

func newMachine() (*statekit.MachineConfig[*History], error) {
	return statekit.NewMachine[*History](machineID).
		WithInitial(stUnprovisioned).
		WithContext(&History{}).
		WithAction("record", recordTransition).
		State(stUnprovisioned).
		On(EventSubmit).Target(stProvisioning).Do("record").
		Done().
		State(stProvisioning).
		On(EventSubmit).Target(stProvisioning).Do("record").
		On(EventConverged).Target(stLive).Do("record").
		On(EventDestroy).Target(stDestroyed).Do("record").
		Done().
		State(stLive).
		On(EventSubmit).Target(stUpdating).Do("record").
		On(EventDestroy).Target(stDestroyed).Do("record").
		Done().
		State(stUpdating).
		On(EventSubmit).Target(stUpdating).Do("record").
		On(EventConverged).Target(stLive).Do("record").
		On(EventDestroy).Target(stDestroyed).Do("record").
		Done().
		State(stDestroyed).
		Final().
		Done().
		Build()
}

func recordTransition(h **History, ev statekit.Event) {
	if h == nil || *h == nil {
		return
	}
	to, ok := ev.Payload.(State)
	if !ok {
		return
	}
	(*h).Transitions = append((*h).Transitions, Transition{From: (*h).current, To: to, At: time.Now().UTC()})
	(*h).current = to
}

// NewLifecycle starts a lifecycle in StateUnprovisioned.
func NewLifecycle() (*Lifecycle, error) {
	return RestoreLifecycle(StateUnprovisioned)
}

// RestoreLifecycle resumes a lifecycle at a state recorded by an earlier run.
func RestoreLifecycle(state State) (*Lifecycle, error) {
	if _, ok := transitions[state]; !ok {
		return nil, fmt.Errorf("unknown distribution state %q", state)
	}
	machine, err := newMachine()
	if err != nil {
		return nil, fmt.Errorf("build lifecycle machine: %w", err)
	}
	hist := &History{current: state}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **History) { *c = hist })
	if state == StateUnprovisioned {
		interp.Start()
	} else {
		err := interp.Restore(statekit.Snapshot[*History]{
			MachineID:    machineID,
			CurrentState: statekit.StateID(state),
			Context:      hist,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("restore lifecycle: %w", err)
		}
	}
	return &Lifecycle{interp: interp, hist: hist}, nil
}

func (l *Lifecycle) State() State {
	return State(l.interp.State().Value)
}

// Terminal reports whether the distribution has been destroyed.
func (l *Lifecycle) Terminal() bool {
	return l.interp.Done()
}

func (l *Lifecycle) History() []Transition {
	return append([]Transition(nil), l.hist.Transitions...)
}

// Fire applies ev, or returns an error when the current state rejects it.
func (l *Lifecycle) Fire(ev statekit.EventType) error {
	from := l.State()
	to, ok := transitions[from][ev]
	if !ok {
		return fmt.Errorf("event %s not allowed in state %s", ev, from)
	}
	l.interp.Send(statekit.Event{Type: ev, Payload: to})
	if got := l.State(); got != to {
		return fmt.Errorf("event %s: expected state %s, machine is in %s", ev, to, got)
	}
	return nil
}

func (l *Lifecycle) Submit() error  { return l.Fire(EventSubmit) }
func (l *Lifecycle) Destroy() error { return l.Fire(EventDestroy) }

// Observe maps a status reported by the platform onto the lifecycle. Only a
// converged status while a change is in flight moves the state.
func (l *Lifecycle) Observe(status string) error {
	if !IsConverged(status) {
		return nil
	}
	switch l.State() {
	case StateProvisioning, StateUpdating:
		return l.Fire(EventConverged)
	}
	return nil
}

// IsConverged reports whether a platform status means the desired state is in effect.
func IsConverged(status string) bool {
	switch strings.ToLower(status) {
	case "converged", "deployed", "ready", "create_complete", "update_complete":
		return true
	}
	return false
}
