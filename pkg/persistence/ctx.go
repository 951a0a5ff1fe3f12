package persistence

import (
	"context"
	"log/slog"
)

// Ctx is handed to the actor's handlers. It is only valid during the handler
// call and must not be retained.
type Ctx struct {
	u *Unit
}

func (c *Ctx) PersistenceID() string { return c.u.id }

// LastSequenceNr returns the highest sequence number applied so far. Writes
// requested in the current handler are not counted until they succeed.
func (c *Ctx) LastSequenceNr() uint64 { return c.u.tracker.Current() }

func (c *Ctx) Phase() Phase { return c.u.router.Phase() }

// Context returns the context of the message being handled.
func (c *Ctx) Context() context.Context { return c.u.ctx }

func (c *Ctx) Logger() *slog.Logger { return c.u.logger }

// Persist requests that payload be journaled with the next sequence number.
// The write runs after the handler returns, in call order with other
// requested writes; then is called with the stored event once it succeeded.
// On failure the command handler receives a PersistenceFailure instead.
func (c *Ctx) Persist(payload any, then func(PersistentEvent)) error {
	if c.u.router.Phase() != Live {
		return ErrNotLive
	}
	c.u.pending = append(c.u.pending, pendingOp{kind: opPersist, payload: payload, then: then})
	return nil
}

// SaveSnapshot requests a snapshot of state at the current sequence number.
// The result arrives as SaveSnapshotSuccess or SaveSnapshotFailure.
func (c *Ctx) SaveSnapshot(state any) error {
	if c.u.router.Phase() != Live {
		return ErrNotLive
	}
	c.u.pending = append(c.u.pending, pendingOp{kind: opSnapshot, seq: c.u.tracker.Current(), state: state})
	return nil
}

// DeleteEvents requests deletion of journal entries up to toSequenceNr.
// The result arrives as DeleteEventsSuccess or DeleteEventsFailure.
func (c *Ctx) DeleteEvents(toSequenceNr uint64) error {
	if c.u.router.Phase() != Live {
		return ErrNotLive
	}
	c.u.pending = append(c.u.pending, pendingOp{kind: opDelete, seq: toSequenceNr})
	return nil
}

// Reply answers the sender of the current message, if it asked for a reply.
// Only the first reply per message is delivered.
func (c *Ctx) Reply(v any) {
	if c.u.reply != nil {
		c.u.reply(v)
	}
}

// Stop stops the unit gracefully once the current message and its writes are
// done.
func (c *Ctx) Stop() { c.u.stopping = true }

// ResumeLive enters the Live phase with the history replayed so far. It may
// only be called while handling a RecoveryFailure.
func (c *Ctx) ResumeLive() error {
	return c.u.decide(decideResume, Recover{})
}

// RetryRecovery starts a new recovery attempt with r after the current
// RecoveryFailure was handled. Events already applied are not replayed again.
func (c *Ctx) RetryRecovery(r Recover) error {
	return c.u.decide(decideRetry, r)
}
