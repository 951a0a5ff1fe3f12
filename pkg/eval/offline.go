package eval

import (
	"context"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store/memory"
)

// Fixture is one recovery case: a journal to seed and the replay outline
// expected for a recovery request.
type Fixture struct {
	Name     string       `json:"name"`
	Events   uint64       `json:"events"`
	Snapshot uint64       `json:"snapshot,omitempty"`
	Recover  FixtureRange `json:"recover"`
	Expect   string       `json:"expect"`
}

// FixtureRange bounds the recovery. Zero values mean unbounded; NoSnapshot
// skips the snapshot store.
type FixtureRange struct {
	To         uint64  `json:"to,omitempty"`
	Max        *uint64 `json:"max,omitempty"`
	NoSnapshot bool    `json:"no_snapshot,omitempty"`
}

func (r FixtureRange) request() persistence.Recover {
	req := persistence.DefaultRecover()
	if r.To > 0 {
		req.ToSequenceNr = r.To
	}
	if r.Max != nil {
		req.ReplayMax = *r.Max
	}
	if r.NoSnapshot {
		req.FromSnapshot = persistence.NoSnapshot()
	}
	return req
}

// EvaluateFixtures loads fixtures from an fs.FS directory (json files), replays
// each against an in-memory journal and compares the outline. Returns score [0,1].
func EvaluateFixtures(ctx context.Context, fsys fs.FS, dir string) (score float64, total int, passed int, details []string, err error) {
	fixtures, err := loadFixtures(fsys, dir)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	total = len(fixtures)
	if total == 0 {
		return 1, 0, 0, nil, nil
	}
	for _, fx := range fixtures {
		got, rerr := runFixture(ctx, fx)
		if rerr != nil {
			details = append(details, fx.Name+": replay error: "+rerr.Error())
			continue
		}
		if got != fx.Expect {
			details = append(details, fx.Name+": got "+got+" want "+fx.Expect)
			continue
		}
		passed++
	}
	score = float64(passed) / float64(total)
	return score, total, passed, details, nil
}

func runFixture(ctx context.Context, fx Fixture) (string, error) {
	const pid = "fixture"
	st := memory.New()
	for i := uint64(1); i <= fx.Events; i++ {
		if _, err := st.Append(ctx, pid, persistence.PersistentEvent{SequenceNr: i, Payload: i}); err != nil {
			return "", err
		}
	}
	if fx.Snapshot > 0 {
		if err := st.Save(ctx, persistence.SnapshotMetadata{PersistenceID: pid, SequenceNr: fx.Snapshot}, fx.Snapshot); err != nil {
			return "", err
		}
	}
	c, err := Verify(ctx, st, st, pid, fx.Recover.request(), 2)
	if err != nil {
		return "", err
	}
	return c.Outline(), nil
}

func loadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	var out []Fixture
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var fx Fixture
		if err := json.Unmarshal(b, &fx); err != nil {
			return nil, err
		}
		out = append(out, fx)
	}
	return out, nil
}
