package tracker

import (
	"fmt"

	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

// State is the tracker's own lifecycle, distinct from the backend ScanState.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

func (s State) String() string { return string(s) }

func AllStates() []State {
	return []State{StateIdle, StateStarting, StatePolling, StateCompleted, StateFailed, StateStopped}
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// ValidateTransition checks if a state transition is valid and returns an error if not.
func (s State) ValidateTransition(target State) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid tracker state transition from %s to %s", s, target)
	}
	return nil
}

func (s State) isValidTransition(target State) bool {
	switch s {
	case StateIdle:
		return target == StateStarting
	case StateStarting:
		// A second Start may supersede one whose create is still in flight.
		return target == StatePolling || target == StateIdle || target == StateStarting
	case StatePolling:
		return target.IsTerminal() || target == StateStarting
	case StateCompleted, StateFailed, StateStopped:
		return target == StateStarting
	default:
		return false
	}
}

// terminalStateFor maps a terminal backend state onto the tracker state.
func terminalStateFor(s models.ScanState) State {
	switch s {
	case models.ScanStateCompleted:
		return StateCompleted
	case models.ScanStateFailed:
		return StateFailed
	default:
		return StateStopped
	}
}
