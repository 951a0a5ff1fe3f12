package persistence

// Phase is the lifecycle phase of a unit.
type Phase int

const (
	Recovering Phase = iota
	Live
)

func (p Phase) String() string {
	if p == Live {
		return "live"
	}
	return "recovering"
}

// Actor is implemented by persistent units. Each handler reports whether it
// handled the message.
type Actor interface {
	// ReceiveRecover receives SnapshotOffer, PersistentEvent,
	// RecoveryCompleted and RecoveryFailure while the unit is Recovering.
	ReceiveRecover(c *Ctx, msg any) bool
	// ReceiveCommand receives commands and write results once the unit is Live.
	ReceiveCommand(c *Ctx, msg any) bool
}

// Router selects the handler for each message from the unit's phase. It does
// no buffering: messages reach the actor in the order Route is called.
type Router struct {
	actor   Actor
	tracker *SequenceTracker
	phase   Phase
}

// NewRouter returns a router in the Recovering phase.
func NewRouter(actor Actor, tracker *SequenceTracker) *Router {
	return &Router{actor: actor, tracker: tracker, phase: Recovering}
}

func (r *Router) Phase() Phase { return r.phase }

// Route delivers msg and reports whether the handler handled it.
//
// While Recovering, snapshot offers and events advance the tracker before the
// replay handler sees them, and RecoveryCompleted switches the router to Live
// after it was delivered. While Live every message goes to the command handler.
func (r *Router) Route(c *Ctx, msg any) (bool, error) {
	if r.phase == Live {
		return r.actor.ReceiveCommand(c, msg), nil
	}
	switch m := msg.(type) {
	case SnapshotOffer:
		if err := r.tracker.Advance(m.Metadata.SequenceNr); err != nil {
			return false, err
		}
	case PersistentEvent:
		if err := r.tracker.Advance(m.SequenceNr); err != nil {
			return false, err
		}
	}
	handled := r.actor.ReceiveRecover(c, msg)
	if _, ok := msg.(RecoveryCompleted); ok {
		r.phase = Live
	}
	return handled, nil
}

// GoLive switches to Live without a RecoveryCompleted. The unit uses it when a
// handled RecoveryFailure chose to resume with partial history.
func (r *Router) GoLive() { r.phase = Live }
