package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/persistor/pkg/persistence"
)

// Entry is one message the replay handler would have received.
type Entry struct {
	Kind       string `json:"kind"`
	SequenceNr uint64 `json:"seq,omitempty"`
	Payload    any    `json:"payload,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (e Entry) String() string {
	switch e.Kind {
	case persistence.KindSnapshotOffer.String():
		return fmt.Sprintf("offer(%d)", e.SequenceNr)
	case persistence.KindEvent.String():
		return fmt.Sprintf("ev(%d)", e.SequenceNr)
	case persistence.KindRecoveryCompleted.String():
		return "completed"
	case persistence.KindRecoveryFailure.String():
		return "failure"
	}
	return e.Kind
}

// Capture is the recorded replay of one identity.
type Capture struct {
	PersistenceID string                   `json:"persistence_id"`
	Plan          persistence.RecoveryPlan `json:"-"`
	Entries       []Entry                  `json:"entries"`
}

func (c Capture) failed() bool {
	n := len(c.Entries)
	return n > 0 && c.Entries[n-1].Kind == persistence.KindRecoveryFailure.String()
}

// Outline renders the entries compactly, e.g. "offer(5) ev(6) completed".
func (c Capture) Outline() string {
	var s string
	for i, e := range c.Entries {
		if i > 0 {
			s += " "
		}
		s += e.String()
	}
	return s
}

type captureConfig struct {
	after uint64
}

// CaptureOption adjusts a captured replay.
type CaptureOption func(*captureConfig)

// FromSequenceNr starts the replay at seq, skipping the snapshot, the way a
// retried recovery resumes.
func FromSequenceNr(seq uint64) CaptureOption {
	return func(c *captureConfig) {
		if seq > 1 {
			c.after = seq - 1
		}
	}
}

// CaptureReplay runs one recovery for persistenceID through the replay
// coordinator and records what a replay handler would receive. A recovery
// failure is recorded as an entry, not returned.
func CaptureReplay(ctx context.Context, journal persistence.Journal, snapshots persistence.SnapshotStore, persistenceID string, req persistence.Recover, opts ...CaptureOption) (Capture, error) {
	var cfg captureConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	out := Capture{PersistenceID: persistenceID}
	coord := persistence.NewReplayCoordinator(persistence.NewPlanner(snapshots), journal)
	err := coord.Run(ctx, persistenceID, req, cfg.after, func(msg any) error {
		out.Entries = append(out.Entries, entryOf(msg))
		return nil
	})
	out.Plan = coord.Plan()
	if err != nil && !out.failed() {
		return out, err
	}
	return out, nil
}

func entryOf(msg any) Entry {
	e := Entry{Kind: persistence.KindOf(msg).String()}
	switch m := msg.(type) {
	case persistence.SnapshotOffer:
		e.SequenceNr, e.Payload = m.Metadata.SequenceNr, m.State
	case persistence.PersistentEvent:
		e.SequenceNr, e.Payload = m.SequenceNr, m.Payload
	case persistence.RecoveryFailure:
		e.Error = m.Cause.Error()
	}
	return e
}

// ErrNondeterministic is returned by Verify when two replays differ.
var ErrNondeterministic = errors.New("eval: replay is not deterministic")

// Verify replays persistenceID runs times and checks every replay delivers
// the same messages. It returns the first capture.
func Verify(ctx context.Context, journal persistence.Journal, snapshots persistence.SnapshotStore, persistenceID string, req persistence.Recover, runs int, opts ...CaptureOption) (Capture, error) {
	if runs < 2 {
		runs = 2
	}
	first, err := CaptureReplay(ctx, journal, snapshots, persistenceID, req, opts...)
	if err != nil {
		return first, err
	}
	for i := 1; i < runs; i++ {
		next, err := CaptureReplay(ctx, journal, snapshots, persistenceID, req, opts...)
		if err != nil {
			return first, err
		}
		if diff := cmp.Diff(first.Entries, next.Entries); diff != "" {
			return first, fmt.Errorf("%w: run %d (-first +run):\n%s", ErrNondeterministic, i+1, diff)
		}
	}
	return first, nil
}
