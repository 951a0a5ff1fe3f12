package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store/memory"
)

var (
	errDisk    = errors.New("disk on fire")
	errNetwork = errors.New("connection reset")
)

// faultyJournal wraps a journal and injects failures.
type faultyJournal struct {
	persistence.Journal

	readFailures  int // number of ReadEvents calls that fail
	readFailAfter int // events yielded before a failing read errors
	readErr       error

	appendFailures int
	appendErr      error

	deleteErr  error
	highestErr error
	reads      int
}

func (j *faultyJournal) ReadEvents(ctx context.Context, pid string, from, to, max uint64) iter.Seq2[persistence.PersistentEvent, error] {
	j.reads++
	inner := j.Journal.ReadEvents(ctx, pid, from, to, max)
	if j.readFailures == 0 {
		return inner
	}
	j.readFailures--
	return func(yield func(persistence.PersistentEvent, error) bool) {
		n := 0
		for ev, err := range inner {
			if n == j.readFailAfter {
				break
			}
			if !yield(ev, err) {
				return
			}
			n++
		}
		yield(persistence.PersistentEvent{}, j.readErr)
	}
}

func (j *faultyJournal) Append(ctx context.Context, pid string, ev persistence.PersistentEvent) (uint64, error) {
	if j.appendFailures > 0 {
		j.appendFailures--
		return 0, j.appendErr
	}
	return j.Journal.Append(ctx, pid, ev)
}

func (j *faultyJournal) DeleteEvents(ctx context.Context, pid string, to uint64) error {
	if j.deleteErr != nil {
		return j.deleteErr
	}
	return j.Journal.DeleteEvents(ctx, pid, to)
}

func (j *faultyJournal) HighestSequenceNr(ctx context.Context, pid string) (uint64, error) {
	if j.highestErr != nil {
		return 0, j.highestErr
	}
	return j.Journal.HighestSequenceNr(ctx, pid)
}

// staticJournal yields a fixed list of events regardless of bounds.
type staticJournal struct {
	persistence.Journal
	events []persistence.PersistentEvent
}

func (j staticJournal) ReadEvents(context.Context, string, uint64, uint64, uint64) iter.Seq2[persistence.PersistentEvent, error] {
	return func(yield func(persistence.PersistentEvent, error) bool) {
		for _, ev := range j.events {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

type failingSnapshots struct {
	err   error
	loads int
}

func (s *failingSnapshots) Load(context.Context, string, persistence.SnapshotSelectionCriteria) (persistence.SelectedSnapshot, bool, error) {
	s.loads++
	return persistence.SelectedSnapshot{}, false, s.err
}

func (s *failingSnapshots) Save(context.Context, persistence.SnapshotMetadata, any) error {
	return s.err
}

// recorder is an actor that records everything it receives. Handlers default
// to "handled".
type recorder struct {
	recovered []any
	commands  []any
	onRecover func(c *persistence.Ctx, msg any) bool
	onCommand func(c *persistence.Ctx, msg any) bool
}

func (r *recorder) ReceiveRecover(c *persistence.Ctx, msg any) bool {
	r.recovered = append(r.recovered, msg)
	if r.onRecover != nil {
		return r.onRecover(c, msg)
	}
	return true
}

func (r *recorder) ReceiveCommand(c *persistence.Ctx, msg any) bool {
	r.commands = append(r.commands, msg)
	if r.onCommand != nil {
		return r.onCommand(c, msg)
	}
	return true
}

// seed writes events 1..n for pid and a snapshot at snapAt when non-zero.
func seed(t *testing.T, st *memory.Store, pid string, n, snapAt uint64) {
	t.Helper()
	ctx := context.Background()
	for i := uint64(1); i <= n; i++ {
		if _, err := st.Append(ctx, pid, persistence.PersistentEvent{SequenceNr: i, Payload: fmt.Sprintf("e%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if snapAt > 0 {
		if err := st.Save(ctx, persistence.SnapshotMetadata{PersistenceID: pid, SequenceNr: snapAt}, fmt.Sprintf("state@%d", snapAt)); err != nil {
			t.Fatal(err)
		}
	}
}

// describe renders a message sequence compactly, e.g. "offer(5) ev(6) completed".
func describe(msgs []any) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case persistence.SnapshotOffer:
			parts = append(parts, fmt.Sprintf("offer(%d)", v.Metadata.SequenceNr))
		case persistence.PersistentEvent:
			parts = append(parts, fmt.Sprintf("ev(%d)", v.SequenceNr))
		case persistence.RecoveryCompleted:
			parts = append(parts, "completed")
		case persistence.RecoveryFailure:
			parts = append(parts, "failure")
		case persistence.PersistenceFailure:
			parts = append(parts, fmt.Sprintf("persist-failure(%d)", v.SequenceNr))
		case persistence.SaveSnapshotSuccess:
			parts = append(parts, fmt.Sprintf("snapshot-saved(%d)", v.Metadata.SequenceNr))
		case persistence.SaveSnapshotFailure:
			parts = append(parts, fmt.Sprintf("snapshot-failed(%d)", v.Metadata.SequenceNr))
		case persistence.DeleteEventsSuccess:
			parts = append(parts, fmt.Sprintf("deleted(%d)", v.ToSequenceNr))
		case persistence.DeleteEventsFailure:
			parts = append(parts, fmt.Sprintf("delete-failed(%d)", v.ToSequenceNr))
		default:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, " ")
}

func newUnit(t *testing.T, pid string, a persistence.Actor, j persistence.Journal, opts ...persistence.UnitOption) *persistence.Unit {
	t.Helper()
	u, err := persistence.NewUnit(pid, a, j, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return u
}
