package persistence

import (
	"context"
	"fmt"
	"iter"
)

// Journal is the durable, per-identity ordered event log.
//
// Append must reject an event whose SequenceNr is not exactly one past the
// highest stored sequence number with a *SequenceConflictError. ReadEvents
// yields entries with from <= seq <= to in ascending order, at most max of
// them; iteration stops at the first error. Deleted entries are not yielded
// but HighestSequenceNr keeps reporting them.
type Journal interface {
	Append(ctx context.Context, persistenceID string, event PersistentEvent) (uint64, error)
	ReadEvents(ctx context.Context, persistenceID string, fromSequenceNr, toSequenceNr, max uint64) iter.Seq2[PersistentEvent, error]
	HighestSequenceNr(ctx context.Context, persistenceID string) (uint64, error)
	DeleteEvents(ctx context.Context, persistenceID string, toSequenceNr uint64) error
}

// SnapshotStore saves and selects snapshots. Load returns the newest snapshot
// matching criteria, or false when none does.
type SnapshotStore interface {
	Load(ctx context.Context, persistenceID string, criteria SnapshotSelectionCriteria) (SelectedSnapshot, bool, error)
	Save(ctx context.Context, meta SnapshotMetadata, state any) error
}

// SequenceConflictError reports a non-contiguous append.
type SequenceConflictError struct {
	PersistenceID string
	Expected      uint64
	Actual        uint64
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("persistence: sequence conflict for %q: expected %d got %d", e.PersistenceID, e.Expected, e.Actual)
}

func (e *SequenceConflictError) Is(target error) bool { return target == ErrSequenceConflict }

// CheckAppend validates ev against the highest stored sequence number.
// Journal implementations call it under their write lock.
func CheckAppend(persistenceID string, highest uint64, ev PersistentEvent) error {
	if persistenceID == "" {
		return ErrPersistenceIDRequired
	}
	if ev.SequenceNr != highest+1 {
		return &SequenceConflictError{PersistenceID: persistenceID, Expected: highest + 1, Actual: ev.SequenceNr}
	}
	return nil
}
