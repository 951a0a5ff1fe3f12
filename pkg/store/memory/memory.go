// Package memory provides an in-process journal and snapshot store. Payloads
// are kept as Go values; nothing survives the process.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/wilhg/persistor/pkg/persistence"
)

// Store implements store.Store in memory.
type Store struct {
	mu        sync.RWMutex
	events    map[string][]persistence.PersistentEvent
	highest   map[string]uint64
	snapshots map[string][]persistence.SelectedSnapshot
}

func New() *Store {
	return &Store{
		events:    make(map[string][]persistence.PersistentEvent),
		highest:   make(map[string]uint64),
		snapshots: make(map[string][]persistence.SelectedSnapshot),
	}
}

// Append stores ev if it directly follows the highest sequence number.
func (s *Store) Append(ctx context.Context, persistenceID string, ev persistence.PersistentEvent) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := persistence.CheckAppend(persistenceID, s.highest[persistenceID], ev); err != nil {
		return 0, err
	}
	ev.PersistenceID = persistenceID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.events[persistenceID] = append(s.events[persistenceID], ev)
	s.highest[persistenceID] = ev.SequenceNr
	return ev.SequenceNr, nil
}

// ReadEvents yields a copy of the matching range taken when iteration starts.
func (s *Store) ReadEvents(ctx context.Context, persistenceID string, from, to, max uint64) iter.Seq2[persistence.PersistentEvent, error] {
	return func(yield func(persistence.PersistentEvent, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(persistence.PersistentEvent{}, err)
			return
		}
		s.mu.RLock()
		var out []persistence.PersistentEvent
		for _, ev := range s.events[persistenceID] {
			if uint64(len(out)) >= max || ev.SequenceNr > to {
				break
			}
			if ev.SequenceNr >= from {
				out = append(out, ev)
			}
		}
		s.mu.RUnlock()
		for _, ev := range out {
			if err := ctx.Err(); err != nil {
				yield(persistence.PersistentEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *Store) HighestSequenceNr(ctx context.Context, persistenceID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highest[persistenceID], nil
}

// DeleteEvents drops entries up to toSequenceNr. The highest sequence number
// is kept so later appends continue the numbering.
func (s *Store) DeleteEvents(ctx context.Context, persistenceID string, toSequenceNr uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[persistenceID]
	i := sort.Search(len(evs), func(i int) bool { return evs[i].SequenceNr > toSequenceNr })
	s.events[persistenceID] = append([]persistence.PersistentEvent(nil), evs[i:]...)
	return nil
}

// Load returns the newest snapshot matching criteria.
func (s *Store) Load(ctx context.Context, persistenceID string, criteria persistence.SnapshotSelectionCriteria) (persistence.SelectedSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return persistence.SelectedSnapshot{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[persistenceID]
	for i := len(snaps) - 1; i >= 0; i-- {
		if criteria.Matches(snaps[i].Metadata) {
			return snaps[i], true, nil
		}
	}
	return persistence.SelectedSnapshot{}, false, nil
}

// Save stores a snapshot, replacing any snapshot at the same sequence number.
func (s *Store) Save(ctx context.Context, meta persistence.SnapshotMetadata, state any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meta.PersistenceID == "" {
		return persistence.ErrPersistenceIDRequired
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.snapshots[meta.PersistenceID]
	i := sort.Search(len(snaps), func(i int) bool { return snaps[i].Metadata.SequenceNr >= meta.SequenceNr })
	sel := persistence.SelectedSnapshot{Metadata: meta, State: state}
	if i < len(snaps) && snaps[i].Metadata.SequenceNr == meta.SequenceNr {
		snaps[i] = sel
	} else {
		snaps = append(snaps, persistence.SelectedSnapshot{})
		copy(snaps[i+1:], snaps[i:])
		snaps[i] = sel
	}
	s.snapshots[meta.PersistenceID] = snaps
	return nil
}

func (s *Store) Close() error { return nil }
