package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type opKind int

const (
	opPersist opKind = iota
	opSnapshot
	opDelete
)

type pendingOp struct {
	kind    opKind
	payload any
	then    func(PersistentEvent)
	seq     uint64
	state   any
}

type decisionKind int

const (
	noDecision decisionKind = iota
	decideResume
	decideRetry
)

// Unit runs the recovery and dispatch protocol for one persistence identity.
// It is not safe for concurrent use: a host drives it from a single goroutine
// by calling Start once and then Receive for every live message.
type Unit struct {
	id        string
	actor     Actor
	journal   Journal
	snapshots SnapshotStore
	recovery  Recover
	logger    *slog.Logger
	observer  Observer
	tracer    trace.Tracer

	tracker *SequenceTracker
	router  *Router
	c       *Ctx

	// highest sequence number known to be in the journal; it can be ahead of
	// the tracker after a bounded recovery or a deletion
	durable uint64

	// per-message state
	ctx      context.Context
	reply    func(any)
	pending  []pendingOp
	stopping bool

	// set while a RecoveryFailure is being handled
	awaiting bool
	decision decisionKind
	retry    Recover
}

// UnitOption configures a Unit at construction time.
type UnitOption func(*Unit)

// WithSnapshotStore enables snapshot selection on recovery and Ctx.SaveSnapshot.
func WithSnapshotStore(s SnapshotStore) UnitOption {
	return func(u *Unit) { u.snapshots = s }
}

// WithRecovery overrides DefaultRecover for the first recovery attempt.
func WithRecovery(r Recover) UnitOption {
	return func(u *Unit) { u.recovery = r }
}

func WithLogger(l *slog.Logger) UnitOption {
	return func(u *Unit) {
		if l != nil {
			u.logger = l
		}
	}
}

func WithObserver(o Observer) UnitOption {
	return func(u *Unit) {
		if o != nil {
			u.observer = o
		}
	}
}

// NewUnit constructs a unit in the Recovering phase.
func NewUnit(persistenceID string, actor Actor, journal Journal, opts ...UnitOption) (*Unit, error) {
	if persistenceID == "" {
		return nil, ErrPersistenceIDRequired
	}
	if actor == nil {
		return nil, errors.New("persistence: actor is nil")
	}
	if journal == nil {
		return nil, errors.New("persistence: journal is nil")
	}
	u := &Unit{
		id:       persistenceID,
		actor:    actor,
		journal:  journal,
		recovery: DefaultRecover(),
		logger:   slog.Default(),
		observer: NopObserver{},
		tracer:   otel.Tracer("persistence/unit"),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With("persistence_id", persistenceID)
	u.tracker = NewSequenceTracker(0)
	u.router = NewRouter(actor, u.tracker)
	u.c = &Ctx{u: u}
	return u, nil
}

func (u *Unit) PersistenceID() string { return u.id }

func (u *Unit) Phase() Phase { return u.router.Phase() }

func (u *Unit) LastSequenceNr() uint64 { return u.tracker.Current() }

// Start recovers the unit. It returns Continue once the unit is Live, and
// Stop or ForceStop when the unit must not go on. Retries requested by the
// replay handler run inside Start.
func (u *Unit) Start(ctx context.Context) Outcome {
	req := u.recovery
	for attempt := 1; ; attempt++ {
		out, retry := u.recoverOnce(ctx, req, attempt)
		if retry == nil {
			return out
		}
		req = *retry
	}
}

func (u *Unit) recoverOnce(ctx context.Context, req Recover, attempt int) (Outcome, *Recover) {
	resumeAfter := u.tracker.Current()
	ctx, span := u.tracer.Start(ctx, "Unit.Recover", trace.WithAttributes(
		attribute.String("persistence.id", u.id),
		attribute.Int("recovery.attempt", attempt),
		attribute.Int64("recovery.resume_after", int64(resumeAfter)),
	))
	defer span.End()
	u.ctx = ctx

	started := time.Now()
	coord := NewReplayCoordinator(NewPlanner(u.snapshots), u.journal)
	var (
		failed bool
		cause  error
		out    = Outcome{Directive: Continue}
		retry  *Recover
	)
	err := coord.Run(ctx, u.id, req, resumeAfter, func(msg any) error {
		if u.stopping {
			return ErrStopped
		}
		if _, done := msg.(RecoveryCompleted); done {
			if err := u.syncDurable(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				msg = RecoveryFailure{Cause: err}
			}
		}
		f, isFailure := msg.(RecoveryFailure)
		if isFailure {
			failed = true
			cause = f.Cause
			u.awaiting, u.decision = true, noDecision
		}
		handled, err := u.router.Route(u.c, msg)
		if err != nil {
			return err
		}
		if isFailure {
			out, retry = u.resolve(f, handled)
		}
		return nil
	})
	elapsed := time.Since(started)
	replayed := coord.Replayed()
	span.SetAttributes(
		attribute.Int64("recovery.replayed", int64(replayed)),
		attribute.Int64("recovery.last_seq", int64(u.tracker.Current())),
	)

	switch {
	case failed:
		if err == nil {
			err = cause
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "recovery failed")
		u.observer.RecoveryFinished(u.id, replayed, elapsed, err)
		if out.Directive != Continue {
			u.logger.ErrorContext(ctx, "recovery failed", "attempt", attempt, "replayed", replayed, "directive", out.Directive.String(), "err", err)
			return out, nil
		}
		if retry != nil {
			u.logger.WarnContext(ctx, "recovery failed, retrying", "attempt", attempt, "replayed", replayed, "err", err)
		} else {
			u.logger.WarnContext(ctx, "recovery failed, resuming with partial history", "attempt", attempt, "last_seq", u.tracker.Current(), "err", err)
		}
		if u.stopping {
			return Outcome{Directive: Stop}, nil
		}
		return out, retry
	case err != nil:
		// abandoned: stopped or cancelled mid-replay
		u.observer.RecoveryFinished(u.id, replayed, elapsed, err)
		u.logger.InfoContext(ctx, "recovery abandoned", "attempt", attempt, "replayed", replayed, "err", err)
		if errors.Is(err, ErrStopped) {
			return Outcome{Directive: Stop}, nil
		}
		return Outcome{Directive: Stop, Cause: err}, nil
	default:
		u.observer.RecoveryFinished(u.id, replayed, elapsed, nil)
		u.logger.InfoContext(ctx, "recovery completed", "attempt", attempt, "replayed", replayed, "last_seq", u.tracker.Current(), "elapsed", elapsed)
		if u.stopping {
			return Outcome{Directive: Stop}, nil
		}
		return out, nil
	}
}

// syncDurable reads the journal's highest sequence number so live writes
// continue after it rather than after the last replayed event.
func (u *Unit) syncDurable(ctx context.Context) error {
	highest, err := u.journal.HighestSequenceNr(ctx, u.id)
	if err != nil {
		return &Fault{Kind: ReplayFault, PersistenceID: u.id, SequenceNr: u.tracker.Current(), Err: err}
	}
	u.durable = max(u.durable, highest)
	return nil
}

// nextSequenceNr is the sequence number the next append must carry.
func (u *Unit) nextSequenceNr() uint64 {
	return max(u.tracker.Current(), u.durable) + 1
}

// decide records the replay handler's answer to a RecoveryFailure.
func (u *Unit) decide(kind decisionKind, r Recover) error {
	if !u.awaiting {
		return ErrNoDecisionPending
	}
	if u.decision != noDecision {
		return ErrDecisionMade
	}
	u.decision, u.retry = kind, r
	return nil
}

// resolve turns a delivered RecoveryFailure into an outcome and, for a retry,
// the next request.
func (u *Unit) resolve(f RecoveryFailure, handled bool) (Outcome, *Recover) {
	decision, retry := u.decision, u.retry
	u.awaiting, u.decision = false, noDecision
	if !handled {
		return Escalate(f, false), nil
	}
	switch decision {
	case decideResume:
		if err := u.syncDurable(u.ctx); err != nil {
			return Outcome{Directive: Stop, Cause: errors.Join(f.Cause, err)}, nil
		}
		u.router.GoLive()
		return Outcome{Directive: Continue}, nil
	case decideRetry:
		return Outcome{Directive: Continue}, &retry
	default:
		return Outcome{Directive: Stop, Cause: fmt.Errorf("%w: %w", ErrNoRecoveryDecision, f.Cause)}, nil
	}
}

// Receive handles one live message and then runs the writes its handler
// requested. reply may be nil.
func (u *Unit) Receive(ctx context.Context, msg any, reply func(any)) Outcome {
	if u.router.Phase() != Live {
		return Outcome{Directive: Stop, Cause: ErrNotLive}
	}
	u.ctx, u.reply = ctx, reply
	defer func() {
		u.reply = nil
		u.pending = nil
	}()
	if out := u.deliver(msg); out.Directive != Continue {
		return out
	}
	if out := u.flush(); out.Directive != Continue {
		return out
	}
	if u.stopping {
		return Outcome{Directive: Stop}
	}
	return Outcome{Directive: Continue}
}

// deliver routes msg and applies the stop policy to unhandled failures.
func (u *Unit) deliver(msg any) Outcome {
	handled, err := u.router.Route(u.c, msg)
	if err != nil {
		return Outcome{Directive: ForceStop, Cause: err}
	}
	if out := Escalate(msg, handled); out.Directive != Continue {
		u.logger.ErrorContext(u.ctx, "failure not handled", "kind", KindOf(msg).String(), "directive", out.Directive.String(), "err", out.Cause)
		return out
	}
	if !handled {
		kind := KindOf(msg)
		u.observer.Unhandled(u.id, kind)
		u.logger.WarnContext(u.ctx, "unhandled message", "kind", kind.String(), "type", fmt.Sprintf("%T", msg))
		if kind == KindCommand {
			u.c.Reply(ErrUnhandled)
		}
	}
	return Outcome{Directive: Continue}
}

func (u *Unit) flush() Outcome {
	for len(u.pending) > 0 {
		op := u.pending[0]
		u.pending = u.pending[1:]
		var out Outcome
		switch op.kind {
		case opPersist:
			out = u.persist(op)
		case opSnapshot:
			out = u.saveSnapshot(op)
		case opDelete:
			out = u.deleteEvents(op)
		}
		if out.Directive != Continue {
			return out
		}
	}
	return Outcome{Directive: Continue}
}

func (u *Unit) persist(op pendingOp) Outcome {
	seq := u.nextSequenceNr()
	ctx, span := u.tracer.Start(u.ctx, "Unit.Persist", trace.WithAttributes(
		attribute.String("persistence.id", u.id),
		attribute.Int64("event.seq", int64(seq)),
	))
	defer span.End()

	ev := PersistentEvent{PersistenceID: u.id, SequenceNr: seq, Payload: op.payload, Timestamp: time.Now().UTC()}
	stored, err := u.journal.Append(ctx, u.id, ev)
	if err == nil && stored != seq {
		err = &SequenceConflictError{PersistenceID: u.id, Expected: seq, Actual: stored}
	}
	u.observer.Persisted(u.id, seq, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		u.logger.ErrorContext(ctx, "persist failed", "seq", seq, "err", err)
		return u.failWrites(op, seq, &Fault{Kind: WriteFault, PersistenceID: u.id, SequenceNr: seq, Err: err})
	}
	if err := u.tracker.Advance(seq); err != nil {
		return Outcome{Directive: ForceStop, Cause: err}
	}
	u.durable = seq
	if op.then != nil {
		op.then(ev)
	}
	return Outcome{Directive: Continue}
}

// failWrites reports the failed write and aborts the persists queued behind
// it. Snapshot and delete requests stay queued.
func (u *Unit) failWrites(failed pendingOp, seq uint64, cause error) Outcome {
	failures := []PersistenceFailure{{Payload: failed.payload, SequenceNr: seq, Cause: cause}}
	rest := make([]pendingOp, 0, len(u.pending))
	next := seq
	for _, op := range u.pending {
		if op.kind != opPersist {
			rest = append(rest, op)
			continue
		}
		next++
		failures = append(failures, PersistenceFailure{
			Payload:    op.payload,
			SequenceNr: next,
			Cause:      &Fault{Kind: WriteFault, PersistenceID: u.id, SequenceNr: next, Err: ErrWriteAborted},
		})
	}
	u.pending = rest
	for _, f := range failures {
		if out := u.deliver(f); out.Directive != Continue {
			return out
		}
	}
	return Outcome{Directive: Continue}
}

func (u *Unit) saveSnapshot(op pendingOp) Outcome {
	meta := SnapshotMetadata{PersistenceID: u.id, SequenceNr: op.seq, Timestamp: time.Now().UTC()}
	ctx, span := u.tracer.Start(u.ctx, "Unit.SaveSnapshot", trace.WithAttributes(
		attribute.String("persistence.id", u.id),
		attribute.Int64("snapshot.seq", int64(op.seq)),
	))
	defer span.End()

	err := ErrNoSnapshotStore
	if u.snapshots != nil {
		err = u.snapshots.Save(ctx, meta, op.state)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		u.logger.WarnContext(ctx, "snapshot failed", "seq", op.seq, "err", err)
		return u.deliver(SaveSnapshotFailure{Metadata: meta, Cause: err})
	}
	return u.deliver(SaveSnapshotSuccess{Metadata: meta})
}

func (u *Unit) deleteEvents(op pendingOp) Outcome {
	ctx, span := u.tracer.Start(u.ctx, "Unit.DeleteEvents", trace.WithAttributes(
		attribute.String("persistence.id", u.id),
		attribute.Int64("delete.to_seq", int64(op.seq)),
	))
	defer span.End()

	if err := u.journal.DeleteEvents(ctx, u.id, op.seq); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		u.logger.WarnContext(ctx, "delete events failed", "to_seq", op.seq, "err", err)
		return u.deliver(DeleteEventsFailure{ToSequenceNr: op.seq, Cause: err})
	}
	return u.deliver(DeleteEventsSuccess{ToSequenceNr: op.seq})
}
