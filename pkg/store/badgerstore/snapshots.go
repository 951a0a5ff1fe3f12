package badgerstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store"
)

// Save stores a snapshot, replacing any snapshot at the same sequence number.
func (s *Store) Save(ctx context.Context, meta persistence.SnapshotMetadata, state any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(meta.PersistenceID); err != nil {
		return err
	}
	rec, err := store.EncodeSnapshot(s.codec, meta, state)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seqKey('s', meta.PersistenceID, meta.SequenceNr), data)
	})
}

// Load walks snapshots newest first and returns the first matching criteria.
func (s *Store) Load(ctx context.Context, persistenceID string, criteria persistence.SnapshotSelectionCriteria) (persistence.SelectedSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return persistence.SelectedSnapshot{}, false, err
	}
	if criteria.IsNone() {
		return persistence.SelectedSnapshot{}, false, nil
	}
	if err := validID(persistenceID); err != nil {
		return persistence.SelectedSnapshot{}, false, err
	}
	var (
		rec   store.SnapshotRecord
		found bool
	)
	pfx := prefix('s', persistenceID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pfx
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seqKey('s', persistenceID, criteria.MaxSequenceNr)); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			if keySeq(item.Key()) < criteria.MinSequenceNr {
				return nil
			}
			var cand store.SnapshotRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cand) }); err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			if criteria.Matches(cand.Metadata()) {
				rec, found = cand, true
				return nil
			}
		}
		return nil
	})
	if err != nil || !found {
		return persistence.SelectedSnapshot{}, false, err
	}
	sel, err := store.DecodeSnapshot(s.codec, rec)
	if err != nil {
		return persistence.SelectedSnapshot{}, false, err
	}
	return sel, true, nil
}
