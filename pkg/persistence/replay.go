package persistence

import (
	"context"
	"errors"
	"fmt"
)

// ReplayState is the coordinator's progress through one recovery attempt.
type ReplayState int

const (
	Idle ReplayState = iota
	AwaitingSnapshot
	ReplayingEvents
	Completed
	Failed
)

func (s ReplayState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingSnapshot:
		return "awaiting_snapshot"
	case ReplayingEvents:
		return "replaying_events"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var errCoordinatorUsed = errors.New("persistence: replay coordinator already ran")

// ReplayCoordinator drives a single recovery attempt. It emits, in order, at
// most one SnapshotOffer, the planned journal entries, and then exactly one
// RecoveryCompleted or RecoveryFailure.
type ReplayCoordinator struct {
	planner *Planner
	journal Journal

	state    ReplayState
	plan     RecoveryPlan
	last     uint64
	replayed uint64
}

func NewReplayCoordinator(planner *Planner, journal Journal) *ReplayCoordinator {
	return &ReplayCoordinator{planner: planner, journal: journal}
}

func (c *ReplayCoordinator) State() ReplayState { return c.state }

// Plan returns the plan of the attempt once it has been computed.
func (c *ReplayCoordinator) Plan() RecoveryPlan { return c.plan }

// Replayed returns the number of journal entries emitted so far.
func (c *ReplayCoordinator) Replayed() uint64 { return c.replayed }

// LastSequenceNr returns the sequence number of the last emitted entry.
func (c *ReplayCoordinator) LastSequenceNr() uint64 { return c.last }

// Run executes the attempt. It returns nil after RecoveryCompleted was
// emitted and the failure cause after RecoveryFailure was emitted.
//
// If emit returns an error for a snapshot offer or an event, the attempt fails
// with that error, except ErrStopped which abandons it. Cancelling ctx also
// abandons the attempt: nothing further is emitted and ctx's error is
// returned.
func (c *ReplayCoordinator) Run(ctx context.Context, persistenceID string, req Recover, resumeAfter uint64, emit func(any) error) error {
	if c.state != Idle {
		return errCoordinatorUsed
	}
	c.state = AwaitingSnapshot

	plan, err := c.planner.Plan(ctx, persistenceID, req, resumeAfter)
	if err != nil {
		if ctx.Err() != nil {
			return c.abandon(ctx.Err())
		}
		return c.fail(emit, err)
	}
	c.plan = plan
	if plan.Snapshot != nil {
		offer := SnapshotOffer{Metadata: plan.Snapshot.Metadata, State: plan.Snapshot.State}
		if err := emit(offer); err != nil {
			return c.emitFailed(ctx, emit, persistenceID, offer.Metadata.SequenceNr, err)
		}
	}

	c.state = ReplayingEvents
	if !plan.Empty() {
		from := plan.lowerBound()
		for ev, err := range c.journal.ReadEvents(ctx, persistenceID, from, plan.ToSequenceNr, plan.ReplayMax) {
			if err != nil {
				if ctx.Err() != nil {
					return c.abandon(ctx.Err())
				}
				return c.fail(emit, &Fault{Kind: ReplayFault, PersistenceID: persistenceID, SequenceNr: c.last, Err: err})
			}
			if ev.SequenceNr > plan.ToSequenceNr {
				break
			}
			if ev.SequenceNr < from || ev.SequenceNr <= c.last {
				cause := fmt.Errorf("%w: got %d after %d (from %d)", ErrReplayOrder, ev.SequenceNr, c.last, from)
				return c.fail(emit, &Fault{Kind: ReplayFault, PersistenceID: persistenceID, SequenceNr: ev.SequenceNr, Err: cause})
			}
			if ctx.Err() != nil {
				return c.abandon(ctx.Err())
			}
			if err := emit(ev); err != nil {
				return c.emitFailed(ctx, emit, persistenceID, ev.SequenceNr, err)
			}
			c.last = ev.SequenceNr
			c.replayed++
			if c.replayed >= plan.ReplayMax {
				break
			}
		}
	}
	if ctx.Err() != nil {
		return c.abandon(ctx.Err())
	}

	c.state = Completed
	return emit(RecoveryCompleted{})
}

func (c *ReplayCoordinator) emitFailed(ctx context.Context, emit func(any) error, persistenceID string, seq uint64, err error) error {
	if errors.Is(err, ErrStopped) {
		return c.abandon(err)
	}
	if ctx.Err() != nil {
		return c.abandon(ctx.Err())
	}
	return c.fail(emit, &Fault{Kind: ReplayFault, PersistenceID: persistenceID, SequenceNr: seq, Err: err})
}

func (c *ReplayCoordinator) fail(emit func(any) error, cause error) error {
	c.state = Failed
	if err := emit(RecoveryFailure{Cause: cause}); err != nil && !errors.Is(err, ErrStopped) {
		return errors.Join(cause, err)
	}
	return cause
}

func (c *ReplayCoordinator) abandon(err error) error {
	c.state = Failed
	return err
}
