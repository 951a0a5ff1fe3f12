package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrPersistenceIDRequired = errors.New("persistence: persistence id is required")
	ErrSequenceRegression    = errors.New("persistence: sequence number regression")
	ErrSequenceConflict      = errors.New("persistence: sequence conflict")
	ErrReplayOrder           = errors.New("persistence: journal entry out of order")
	ErrWriteAborted          = errors.New("persistence: write aborted after earlier failure")
	ErrNoRecoveryDecision    = errors.New("persistence: recovery failure handled without a decision")
	ErrNotLive               = errors.New("persistence: unit is not live")
	ErrNoDecisionPending     = errors.New("persistence: no recovery decision pending")
	ErrDecisionMade          = errors.New("persistence: recovery decision already made")
	ErrNoSnapshotStore       = errors.New("persistence: no snapshot store configured")
	ErrUnhandled             = errors.New("persistence: message not handled")
	ErrStopped               = errors.New("persistence: unit stopped")
	ErrForceStopped          = errors.New("persistence: unit force stopped")
)

// FaultKind identifies where a storage fault happened.
type FaultKind int

const (
	// PlanningFault: the snapshot store failed while recovery was planned.
	PlanningFault FaultKind = iota + 1
	// ReplayFault: the journal failed or misbehaved while events were streamed.
	ReplayFault
	// WriteFault: a live append failed.
	WriteFault
)

func (k FaultKind) String() string {
	switch k {
	case PlanningFault:
		return "planning"
	case ReplayFault:
		return "replay"
	case WriteFault:
		return "write"
	default:
		return "unknown"
	}
}

// Fault wraps a collaborator error with the place it happened. The cause is
// kept unchanged and reachable through errors.Is and errors.As.
type Fault struct {
	Kind          FaultKind
	PersistenceID string
	SequenceNr    uint64
	Err           error
}

func (f *Fault) Error() string {
	if f.SequenceNr > 0 {
		return fmt.Sprintf("%s fault for %q at seq %d: %v", f.Kind, f.PersistenceID, f.SequenceNr, f.Err)
	}
	return fmt.Sprintf("%s fault for %q: %v", f.Kind, f.PersistenceID, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// IsFault reports whether err carries a Fault of the given kind.
func IsFault(err error, kind FaultKind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}

// Directive tells the host what to do with a unit after a message.
type Directive int

const (
	Continue Directive = iota
	// Stop ends the unit after its current message.
	Stop
	// ForceStop ends the unit immediately.
	ForceStop
)

func (d Directive) String() string {
	switch d {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case ForceStop:
		return "force_stop"
	default:
		return "unknown"
	}
}

// Outcome is the result of driving a unit one step.
type Outcome struct {
	Directive Directive
	Cause     error
}

// Escalate applies the stop policy for failure messages a handler did not
// handle: an unhandled PersistenceFailure force-stops the unit and an
// unhandled RecoveryFailure stops it gracefully. Everything else continues.
func Escalate(msg any, handled bool) Outcome {
	if handled {
		return Outcome{Directive: Continue}
	}
	switch m := msg.(type) {
	case PersistenceFailure:
		return Outcome{Directive: ForceStop, Cause: fmt.Errorf("unhandled persistence failure at seq %d: %w", m.SequenceNr, m.Cause)}
	case RecoveryFailure:
		return Outcome{Directive: Stop, Cause: fmt.Errorf("unhandled recovery failure: %w", m.Cause)}
	default:
		return Outcome{Directive: Continue}
	}
}
