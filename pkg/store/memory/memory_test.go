package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store"
)

var _ store.Store = (*Store)(nil)

func TestAppendReadAndHighest(t *testing.T) {
	ctx := context.Background()
	st := New()
	for i := uint64(1); i <= 4; i++ {
		seq, err := st.Append(ctx, "acc", persistence.PersistentEvent{SequenceNr: i, Payload: i})
		if err != nil {
			t.Fatal(err)
		}
		if seq != i {
			t.Fatalf("seq=%d want %d", seq, i)
		}
	}
	var got []uint64
	for ev, err := range st.ReadEvents(ctx, "acc", 2, 3, 10) {
		if err != nil {
			t.Fatal(err)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("timestamp not set")
		}
		got = append(got, ev.SequenceNr)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("got %v", got)
	}
	h, _ := st.HighestSequenceNr(ctx, "acc")
	if h != 4 {
		t.Fatalf("highest=%d want 4", h)
	}
	if h, _ := st.HighestSequenceNr(ctx, "nobody"); h != 0 {
		t.Fatalf("highest=%d want 0", h)
	}
}

func TestAppendRejectsNonContiguous(t *testing.T) {
	ctx := context.Background()
	st := New()
	_, err := st.Append(ctx, "acc", persistence.PersistentEvent{SequenceNr: 2})
	var conflict *persistence.SequenceConflictError
	if !errors.As(err, &conflict) || conflict.Expected != 1 {
		t.Fatalf("err=%v", err)
	}
}

func TestReadStopsWhenConsumerBreaks(t *testing.T) {
	ctx := context.Background()
	st := New()
	for i := uint64(1); i <= 5; i++ {
		_, _ = st.Append(ctx, "acc", persistence.PersistentEvent{SequenceNr: i})
	}
	n := 0
	for range st.ReadEvents(ctx, "acc", 1, 5, 5) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("n=%d", n)
	}
}

func TestReadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := New()
	_, _ = st.Append(ctx, "acc", persistence.PersistentEvent{SequenceNr: 1})
	cancel()
	for _, err := range st.ReadEvents(ctx, "acc", 1, 1, 1) {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want canceled", err)
		}
	}
}

func TestDeleteEvents(t *testing.T) {
	ctx := context.Background()
	st := New()
	for i := uint64(1); i <= 3; i++ {
		_, _ = st.Append(ctx, "acc", persistence.PersistentEvent{SequenceNr: i})
	}
	if err := st.DeleteEvents(ctx, "acc", 2); err != nil {
		t.Fatal(err)
	}
	n := 0
	for ev, err := range st.ReadEvents(ctx, "acc", 0, 10, 10) {
		if err != nil || ev.SequenceNr != 3 {
			t.Fatalf("ev=%+v err=%v", ev, err)
		}
		n++
	}
	if n != 1 {
		t.Fatalf("n=%d want 1", n)
	}
	if _, err := st.Append(ctx, "acc", persistence.PersistentEvent{SequenceNr: 4}); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotSelection(t *testing.T) {
	ctx := context.Background()
	st := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, seq := range []uint64{10, 5, 20} {
		meta := persistence.SnapshotMetadata{PersistenceID: "acc", SequenceNr: seq, Timestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := st.Save(ctx, meta, seq); err != nil {
			t.Fatal(err)
		}
	}
	sel, ok, err := st.Load(ctx, "acc", persistence.LatestSnapshot())
	if err != nil || !ok || sel.Metadata.SequenceNr != 20 {
		t.Fatalf("latest=%+v ok=%v err=%v", sel, ok, err)
	}
	// seq 10 was saved first, so it is the only one at or before base
	c := persistence.LatestSnapshot()
	c.MaxTimestamp = base
	sel, ok, err = st.Load(ctx, "acc", c)
	if err != nil || !ok || sel.Metadata.SequenceNr != 10 {
		t.Fatalf("by time=%+v ok=%v err=%v", sel, ok, err)
	}
	if err := st.Save(ctx, persistence.SnapshotMetadata{PersistenceID: "acc", SequenceNr: 20}, "replaced"); err != nil {
		t.Fatal(err)
	}
	sel, _, _ = st.Load(ctx, "acc", persistence.LatestSnapshot())
	if sel.State != "replaced" {
		t.Fatalf("state=%v", sel.State)
	}
	if _, ok, _ := st.Load(ctx, "acc", persistence.NoSnapshot()); ok {
		t.Fatal("NoSnapshot selected a snapshot")
	}
}
