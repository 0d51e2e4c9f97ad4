package sync

import (
	"fmt"

	"github.com/stacklok/price-sync-server/internal/status"
)

// phaseOrder is the only path a run takes through its phases
var phaseOrder = []status.Phase{
	status.PhaseIdle,
	status.PhaseReading,
	status.PhaseFetching,
	status.PhaseComputing,
	status.PhaseWriting,
	status.PhaseSummarizing,
}

// TransitionError reports an out-of-order phase transition
type TransitionError struct {
	From status.Phase
	To   status.Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

// phaseMachine tracks the phase of a single run
type phaseMachine struct {
	current status.Phase
}

func newPhaseMachine() *phaseMachine {
	return &phaseMachine{current: status.PhaseIdle}
}

// Current returns the current phase
func (p *phaseMachine) Current() status.Phase {
	return p.current
}

// Transition moves to the given phase if it is the next phase in order.
// Summarizing is also reachable from any active phase so that a fatal error
// can still produce a summary.
func (p *phaseMachine) Transition(to status.Phase) error {
	if !isAllowedTransition(p.current, to) {
		return &TransitionError{From: p.current, To: to}
	}
	p.current = to
	return nil
}

func isAllowedTransition(from, to status.Phase) bool {
	if from == status.PhaseSummarizing {
		return to == status.PhaseIdle
	}
	if to == status.PhaseSummarizing && from != status.PhaseIdle {
		return true
	}
	for i := 0; i < len(phaseOrder)-1; i++ {
		if phaseOrder[i] == from {
			return phaseOrder[i+1] == to
		}
	}
	return false
}
