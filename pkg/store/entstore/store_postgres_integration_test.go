//go:build integration

package entstore

import (
	"context"
	"errors"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/wilhg/persistor/pkg/persistence"
)

func openPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("persistor"),
		tcpostgres.WithUsername("persistor"),
		tcpostgres.WithPassword("persistor"),
		tcpostgres.WithSQLDriver("pgx"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	st, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestPostgresJournalFlow(t *testing.T) {
	ctx := context.Background()
	st := openPostgres(t)

	for i := uint64(1); i <= 3; i++ {
		if _, err := st.Append(ctx, "acc-pg", persistence.PersistentEvent{SequenceNr: i, Payload: deposited{Amount: 1}}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := st.Append(ctx, "acc-pg", persistence.PersistentEvent{SequenceNr: 3, Payload: deposited{}}); !errors.Is(err, persistence.ErrSequenceConflict) {
		t.Fatalf("err=%v want conflict", err)
	}

	var got []uint64
	for ev, err := range st.ReadEvents(ctx, "acc-pg", 0, ^uint64(0), ^uint64(0)) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, ev.SequenceNr)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("seq order wrong: %v", got)
	}

	if err := st.Save(ctx, persistence.SnapshotMetadata{PersistenceID: "acc-pg", SequenceNr: 2}, balance{Total: 2}); err != nil {
		t.Fatal(err)
	}
	sel, ok, err := st.Load(ctx, "acc-pg", persistence.LatestSnapshot())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if sel.Metadata.SequenceNr != 2 {
		t.Fatalf("snapshot seq=%d want 2", sel.Metadata.SequenceNr)
	}
}

// Appending the same history to SQLite and PostgreSQL must read back identically.
func TestParitySQLiteVsPostgres(t *testing.T) {
	ctx := context.Background()
	sqlite := openSQLite(t, "parity")
	pg := openPostgres(t)

	for _, st := range []*Store{sqlite, pg} {
		for i := uint64(1); i <= 5; i++ {
			if _, err := st.Append(ctx, "run-parity", persistence.PersistentEvent{SequenceNr: i, Payload: deposited{Amount: int64(i)}}); err != nil {
				t.Fatal(err)
			}
		}
		if err := st.DeleteEvents(ctx, "run-parity", 2); err != nil {
			t.Fatal(err)
		}
	}

	read := func(st *Store) []uint64 {
		var out []uint64
		for ev, err := range st.ReadEvents(ctx, "run-parity", 1, 4, 10) {
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, ev.SequenceNr)
		}
		return out
	}
	a, b := read(sqlite), read(pg)
	if len(a) != len(b) {
		t.Fatalf("len mismatch: sqlite=%v postgres=%v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seq mismatch at %d: sqlite=%v postgres=%v", i, a, b)
		}
	}
}
