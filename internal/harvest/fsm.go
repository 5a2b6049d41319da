package harvest

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

type State string

const (
	StatePending    State = "pending"
	StateBuilding   State = "building"
	StateDispatched State = "dispatched"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped_unsupported"
)

func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	}
	return false
}

// FSM tracks one source through a run. There are no retries: a terminal
// state has no outgoing transitions.
type FSM struct {
	mu          sync.Mutex
	Transitions map[State]map[State]struct{}

	current State
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: StatePending,
		logger:  zap.NewNop(),

		Transitions: map[State]map[State]struct{}{
			StatePending: {
				StateBuilding: {},
			},
			StateBuilding: {
				StateDispatched: {},
				StateSkipped:    {},
				StateFailed:     {}, // configuration error, nothing dispatched
			},
			StateDispatched: {
				StateSucceeded: {},
				StateFailed:    {},
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) canTransition(to State) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.canTransition(to) {
		f.logger.Error("invalid state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.current, to)
	}
	previous := f.current
	f.current = to

	f.logger.Debug("state transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}
