package persistence

import (
	"context"
	"math"
)

// Planner resolves a Recover request into a RecoveryPlan.
type Planner struct {
	snapshots SnapshotStore
}

// NewPlanner returns a planner backed by snapshots. A nil store behaves as if
// no snapshot exists.
func NewPlanner(snapshots SnapshotStore) *Planner {
	return &Planner{snapshots: snapshots}
}

// Plan selects the starting snapshot and the journal bounds for a recovery
// attempt. When resumeAfter is non-zero the unit has already applied history
// up to that sequence number: the snapshot is skipped and replay resumes at
// resumeAfter+1. Snapshot store errors are returned as a PlanningFault.
func (p *Planner) Plan(ctx context.Context, persistenceID string, req Recover, resumeAfter uint64) (RecoveryPlan, error) {
	plan := RecoveryPlan{ToSequenceNr: req.ToSequenceNr, ReplayMax: req.ReplayMax}
	if resumeAfter > 0 {
		plan.FromSequenceNr = resumeAfter + 1
		return plan, nil
	}
	if p.snapshots == nil || req.FromSnapshot.IsNone() {
		return plan, nil
	}
	sel, ok, err := p.snapshots.Load(ctx, persistenceID, req.FromSnapshot)
	if err != nil {
		return RecoveryPlan{}, &Fault{Kind: PlanningFault, PersistenceID: persistenceID, Err: err}
	}
	if !ok {
		return plan, nil
	}
	plan.Snapshot = &sel
	if sel.Metadata.SequenceNr == math.MaxUint64 {
		plan.FromSequenceNr, plan.ReplayMax = math.MaxUint64, 0
		return plan, nil
	}
	plan.FromSequenceNr = sel.Metadata.SequenceNr + 1
	return plan, nil
}
