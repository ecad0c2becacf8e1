package engine

// Phase is a state of the per-batch sync state machine.
//
//	IDLE -> FETCHING -> NORMALIZING -> RECONCILING -> COMMITTED
//	FETCHING, RECONCILING -> FAILED
//	FETCHING -> FETCHING, RECONCILING -> RECONCILING on a retryable error
//
// COMMITTED and FAILED are terminal.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseFetching    Phase = "FETCHING"
	PhaseNormalizing Phase = "NORMALIZING"
	PhaseReconciling Phase = "RECONCILING"
	PhaseCommitted   Phase = "COMMITTED"
	PhaseFailed      Phase = "FAILED"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseFetching},
	PhaseFetching:    {PhaseFetching, PhaseNormalizing, PhaseFailed},
	PhaseNormalizing: {PhaseReconciling},
	PhaseReconciling: {PhaseReconciling, PhaseCommitted, PhaseFailed},
}

// Terminal reports whether no further transition is allowed.
func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseFailed
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// phaseMachine tracks one batch. It is owned by a single worker goroutine.
type phaseMachine struct {
	phase Phase
}

func newPhaseMachine() *phaseMachine {
	return &phaseMachine{phase: PhaseIdle}
}

// to moves the machine, refusing illegal steps.
func (m *phaseMachine) to(next Phase) error {
	if !CanTransition(m.phase, next) {
		return NewIllegalTransition(m.phase, next)
	}
	m.phase = next
	return nil
}

func (m *phaseMachine) current() Phase {
	return m.phase
}
