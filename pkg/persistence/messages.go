package persistence

import "time"

// PersistentEvent is a journaled entry. It is immutable once written.
type PersistentEvent struct {
	PersistenceID string
	SequenceNr    uint64
	Payload       any
	Timestamp     time.Time
}

// SnapshotMetadata identifies a stored snapshot.
type SnapshotMetadata struct {
	PersistenceID string
	SequenceNr    uint64
	Timestamp     time.Time
}

// SelectedSnapshot is a snapshot returned by a SnapshotStore.
type SelectedSnapshot struct {
	Metadata SnapshotMetadata
	State    any
}

// SnapshotOffer is delivered to the replay handler before any replayed event
// when recovery starts from a snapshot.
type SnapshotOffer struct {
	Metadata SnapshotMetadata
	State    any
}

// RecoveryCompleted marks the end of a successful replay. It carries no data
// and is matched by type.
type RecoveryCompleted struct{}

// RecoveryFailure is delivered to the replay handler when recovery cannot
// finish. The handler must call Ctx.ResumeLive or Ctx.RetryRecovery.
type RecoveryFailure struct {
	Cause error
}

// PersistenceFailure is delivered to the command handler when a requested
// write was not journaled.
type PersistenceFailure struct {
	Payload    any
	SequenceNr uint64
	Cause      error
}

type SaveSnapshotSuccess struct {
	Metadata SnapshotMetadata
}

type SaveSnapshotFailure struct {
	Metadata SnapshotMetadata
	Cause    error
}

type DeleteEventsSuccess struct {
	ToSequenceNr uint64
}

type DeleteEventsFailure struct {
	ToSequenceNr uint64
	Cause        error
}

// Kind classifies a message for logging and metrics.
type Kind int

const (
	KindCommand Kind = iota
	KindSnapshotOffer
	KindEvent
	KindRecoveryCompleted
	KindRecoveryFailure
	KindPersistenceFailure
	KindSaveSnapshotSuccess
	KindSaveSnapshotFailure
	KindDeleteEventsSuccess
	KindDeleteEventsFailure
)

var kindNames = [...]string{
	KindCommand:             "command",
	KindSnapshotOffer:       "snapshot_offer",
	KindEvent:               "event",
	KindRecoveryCompleted:   "recovery_completed",
	KindRecoveryFailure:     "recovery_failure",
	KindPersistenceFailure:  "persistence_failure",
	KindSaveSnapshotSuccess: "save_snapshot_success",
	KindSaveSnapshotFailure: "save_snapshot_failure",
	KindDeleteEventsSuccess: "delete_events_success",
	KindDeleteEventsFailure: "delete_events_failure",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// KindOf reports the Kind of msg. Anything that is not a protocol message is
// a command.
func KindOf(msg any) Kind {
	switch msg.(type) {
	case SnapshotOffer:
		return KindSnapshotOffer
	case PersistentEvent:
		return KindEvent
	case RecoveryCompleted:
		return KindRecoveryCompleted
	case RecoveryFailure:
		return KindRecoveryFailure
	case PersistenceFailure:
		return KindPersistenceFailure
	case SaveSnapshotSuccess:
		return KindSaveSnapshotSuccess
	case SaveSnapshotFailure:
		return KindSaveSnapshotFailure
	case DeleteEventsSuccess:
		return KindDeleteEventsSuccess
	case DeleteEventsFailure:
		return KindDeleteEventsFailure
	default:
		return KindCommand
	}
}
