package eval

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store/memory"
)

func seeded(t *testing.T, n uint64) *memory.Store {
	t.Helper()
	st := memory.New()
	for i := uint64(1); i <= n; i++ {
		if _, err := st.Append(context.Background(), "acc-1", persistence.PersistentEvent{SequenceNr: i, Payload: i * 10}); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestCaptureReplay(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, 4)
	if err := st.Save(ctx, persistence.SnapshotMetadata{PersistenceID: "acc-1", SequenceNr: 2}, "s2"); err != nil {
		t.Fatal(err)
	}
	c, err := CaptureReplay(ctx, st, st, "acc-1", persistence.DefaultRecover())
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Outline(); got != "offer(2) ev(3) ev(4) completed" {
		t.Fatalf("outline: %s", got)
	}
	if c.Entries[1].Payload != uint64(30) {
		t.Fatalf("payload: %v", c.Entries[1].Payload)
	}
	if c.Plan.FromSequenceNr != 3 {
		t.Fatalf("plan: %+v", c.Plan)
	}
}

// flipJournal yields a different payload on every read.
type flipJournal struct {
	persistence.Journal
	reads int
}

func (j *flipJournal) ReadEvents(ctx context.Context, pid string, from, to, max uint64) iter.Seq2[persistence.PersistentEvent, error] {
	j.reads++
	n := j.reads
	return func(yield func(persistence.PersistentEvent, error) bool) {
		yield(persistence.PersistentEvent{PersistenceID: pid, SequenceNr: 1, Payload: n}, nil)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, 3)
	c, err := Verify(ctx, st, nil, "acc-1", persistence.DefaultRecover(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if c.Outline() != "ev(1) ev(2) ev(3) completed" {
		t.Fatalf("outline: %s", c.Outline())
	}

	_, err = Verify(ctx, &flipJournal{Journal: st}, nil, "acc-1", persistence.DefaultRecover(), 2)
	if !errors.Is(err, ErrNondeterministic) {
		t.Fatalf("want ErrNondeterministic, got %v", err)
	}
}

type brokenJournal struct{ persistence.Journal }

func (brokenJournal) ReadEvents(context.Context, string, uint64, uint64, uint64) iter.Seq2[persistence.PersistentEvent, error] {
	return func(yield func(persistence.PersistentEvent, error) bool) {
		yield(persistence.PersistentEvent{}, errors.New("io"))
	}
}

func TestCaptureRecordsFailure(t *testing.T) {
	c, err := CaptureReplay(context.Background(), brokenJournal{}, nil, "acc-1", persistence.DefaultRecover())
	if err != nil {
		t.Fatal(err)
	}
	if c.Outline() != "failure" || !strings.Contains(c.Entries[0].Error, "io") {
		t.Fatalf("capture: %+v", c)
	}
}

func TestCaptureFromSequenceNr(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, 5)
	if err := st.Save(ctx, persistence.SnapshotMetadata{PersistenceID: "acc-1", SequenceNr: 4}, "s4"); err != nil {
		t.Fatal(err)
	}
	c, err := CaptureReplay(ctx, st, st, "acc-1", persistence.DefaultRecover(), FromSequenceNr(2))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Outline(); got != "ev(2) ev(3) ev(4) ev(5) completed" {
		t.Fatalf("outline: %s", got)
	}
}
