package persistence

import (
	"math"
	"time"
)

// SnapshotSelectionCriteria bounds which snapshot recovery may start from.
// A zero MaxTimestamp or MinTimestamp is unbounded. A zero MaxSequenceNr
// selects nothing.
type SnapshotSelectionCriteria struct {
	MaxSequenceNr uint64
	MaxTimestamp  time.Time
	MinSequenceNr uint64
	MinTimestamp  time.Time
}

// LatestSnapshot selects the most recent snapshot.
func LatestSnapshot() SnapshotSelectionCriteria {
	return SnapshotSelectionCriteria{MaxSequenceNr: math.MaxUint64}
}

// NoSnapshot never selects a snapshot.
func NoSnapshot() SnapshotSelectionCriteria { return SnapshotSelectionCriteria{} }

// IsNone reports whether c can never match.
func (c SnapshotSelectionCriteria) IsNone() bool {
	return c.MaxSequenceNr == 0 || c.MinSequenceNr > c.MaxSequenceNr
}

// Matches reports whether a snapshot with metadata m is eligible.
func (c SnapshotSelectionCriteria) Matches(m SnapshotMetadata) bool {
	if c.IsNone() {
		return false
	}
	if m.SequenceNr > c.MaxSequenceNr || m.SequenceNr < c.MinSequenceNr {
		return false
	}
	if !c.MaxTimestamp.IsZero() && m.Timestamp.After(c.MaxTimestamp) {
		return false
	}
	if !c.MinTimestamp.IsZero() && m.Timestamp.Before(c.MinTimestamp) {
		return false
	}
	return true
}

// Recover parameterizes a recovery attempt.
type Recover struct {
	FromSnapshot SnapshotSelectionCriteria
	ToSequenceNr uint64
	ReplayMax    uint64
}

// DefaultRecover replays everything on top of the latest snapshot.
func DefaultRecover() Recover {
	return Recover{
		FromSnapshot: LatestSnapshot(),
		ToSequenceNr: math.MaxUint64,
		ReplayMax:    math.MaxUint64,
	}
}

// NoRecovery skips both the snapshot and the journal.
func NoRecovery() Recover {
	return Recover{FromSnapshot: NoSnapshot()}
}

// RecoveryPlan is the resolved form of a Recover request.
type RecoveryPlan struct {
	Snapshot       *SelectedSnapshot
	FromSequenceNr uint64
	ToSequenceNr   uint64
	ReplayMax      uint64
}

// lowerBound is the first sequence number worth asking the journal for.
// Journals number entries from 1, so 0 and 1 select the same events.
func (p RecoveryPlan) lowerBound() uint64 {
	if p.FromSequenceNr == 0 {
		return 1
	}
	return p.FromSequenceNr
}

// Empty reports whether the plan can never yield a journal entry.
func (p RecoveryPlan) Empty() bool {
	return p.ReplayMax == 0 || p.lowerBound() > p.ToSequenceNr
}
