package persistence_test

import (
	"math"
	"testing"
	"time"

	"github.com/wilhg/persistor/pkg/persistence"
)

func TestSnapshotSelectionCriteria(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	meta := persistence.SnapshotMetadata{PersistenceID: "p", SequenceNr: 10, Timestamp: ts}

	cases := []struct {
		name string
		c    persistence.SnapshotSelectionCriteria
		want bool
	}{
		{"latest", persistence.LatestSnapshot(), true},
		{"none", persistence.NoSnapshot(), false},
		{"max below", persistence.SnapshotSelectionCriteria{MaxSequenceNr: 9}, false},
		{"max equal", persistence.SnapshotSelectionCriteria{MaxSequenceNr: 10}, true},
		{"min above", persistence.SnapshotSelectionCriteria{MaxSequenceNr: math.MaxUint64, MinSequenceNr: 11}, false},
		{"max ts before", persistence.SnapshotSelectionCriteria{MaxSequenceNr: math.MaxUint64, MaxTimestamp: ts.Add(-time.Second)}, false},
		{"min ts after", persistence.SnapshotSelectionCriteria{MaxSequenceNr: math.MaxUint64, MinTimestamp: ts.Add(time.Second)}, false},
		{"ts window", persistence.SnapshotSelectionCriteria{MaxSequenceNr: math.MaxUint64, MinTimestamp: ts, MaxTimestamp: ts}, true},
	}
	for _, tc := range cases {
		if got := tc.c.Matches(meta); got != tc.want {
			t.Fatalf("%s: matches=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestDefaultAndNoRecovery(t *testing.T) {
	d := persistence.DefaultRecover()
	if d.FromSnapshot.IsNone() || d.ToSequenceNr != math.MaxUint64 || d.ReplayMax != math.MaxUint64 {
		t.Fatalf("default=%+v", d)
	}
	n := persistence.NoRecovery()
	if !n.FromSnapshot.IsNone() || n.ToSequenceNr != 0 {
		t.Fatalf("none=%+v", n)
	}
}

func TestRecoveryPlanEmpty(t *testing.T) {
	cases := []struct {
		plan persistence.RecoveryPlan
		want bool
	}{
		{persistence.RecoveryPlan{FromSequenceNr: 0, ToSequenceNr: math.MaxUint64, ReplayMax: 1}, false},
		{persistence.RecoveryPlan{FromSequenceNr: 0, ToSequenceNr: 0, ReplayMax: 10}, true},
		{persistence.RecoveryPlan{FromSequenceNr: 6, ToSequenceNr: 5, ReplayMax: 10}, true},
		{persistence.RecoveryPlan{FromSequenceNr: 6, ToSequenceNr: 6, ReplayMax: 0}, true},
	}
	for i, tc := range cases {
		if got := tc.plan.Empty(); got != tc.want {
			t.Fatalf("case %d: empty=%v want %v", i, got, tc.want)
		}
	}
}
