package session

import "fmt"

// State represents the lifecycle state of a recording session.
type State int

const (
	// StateIdle - No capture bound; Start is allowed.
	StateIdle State = iota
	// StateRequesting - Device lock held, backend bound, permission pending.
	StateRequesting
	// StateRecording - Backend capturing; duration advancing.
	StateRecording
	// StatePaused - Backend paused; duration frozen.
	StatePaused
	// StateStopping - Backend finalizing the artifact.
	StateStopping
	// StateFinalized - Artifact produced. Terminal.
	StateFinalized
	// StateFailed - No artifact; carries an error kind. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequesting:
		return "REQUESTING"
	case StateRecording:
		return "RECORDING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateFinalized:
		return "FINALIZED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for FINALIZED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateFailed
}

// IsActive returns true while the session owns the device
// (REQUESTING, RECORDING, PAUSED, STOPPING).
func (s State) IsActive() bool {
	return s >= StateRequesting && s <= StateStopping
}
