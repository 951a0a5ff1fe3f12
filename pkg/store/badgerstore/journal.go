package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store"
)

// Append writes ev and the new highest sequence number in one transaction.
func (s *Store) Append(ctx context.Context, persistenceID string, ev persistence.PersistentEvent) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validID(persistenceID); err != nil {
		return 0, err
	}
	ev.PersistenceID = persistenceID
	rec, err := store.EncodeEvent(s.codec, ev)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	var highest uint64
	err = s.db.Update(func(txn *badger.Txn) error {
		h, err := readHighest(txn, persistenceID)
		if err != nil {
			return err
		}
		highest = h
		if err := persistence.CheckAppend(persistenceID, highest, ev); err != nil {
			return err
		}
		if err := txn.Set(seqKey('j', persistenceID, ev.SequenceNr), data); err != nil {
			return err
		}
		return txn.Set(highestKey(persistenceID), binary.BigEndian.AppendUint64(nil, ev.SequenceNr))
	})
	if errors.Is(err, badger.ErrConflict) {
		return 0, &persistence.SequenceConflictError{PersistenceID: persistenceID, Expected: highest + 1, Actual: ev.SequenceNr}
	}
	if err != nil {
		return 0, err
	}
	return ev.SequenceNr, nil
}

func readHighest(txn *badger.Txn, persistenceID string) (uint64, error) {
	item, err := txn.Get(highestKey(persistenceID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("badger: corrupt highest seq for %q", persistenceID)
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

// ReadEvents pages through the journal lazily; each page is read in its own
// transaction.
func (s *Store) ReadEvents(ctx context.Context, persistenceID string, from, to, max uint64) iter.Seq2[persistence.PersistentEvent, error] {
	return func(yield func(persistence.PersistentEvent, error) bool) {
		if err := validID(persistenceID); err != nil {
			yield(persistence.PersistentEvent{}, err)
			return
		}
		next, remaining := from, max
		for remaining > 0 && next <= to {
			if err := ctx.Err(); err != nil {
				yield(persistence.PersistentEvent{}, err)
				return
			}
			limit := s.pageSize
			if uint64(limit) > remaining {
				limit = int(remaining)
			}
			recs, err := s.page(persistenceID, next, to, limit)
			if err != nil {
				yield(persistence.PersistentEvent{}, err)
				return
			}
			for _, rec := range recs {
				ev, err := store.DecodeEvent(s.codec, rec)
				if err != nil {
					yield(persistence.PersistentEvent{}, fmt.Errorf("decode event %d: %w", rec.Seq, err))
					return
				}
				if !yield(ev, nil) {
					return
				}
				remaining--
				next = rec.Seq + 1
			}
			if len(recs) < limit {
				return
			}
		}
	}
}

func (s *Store) page(persistenceID string, from, to uint64, limit int) ([]store.EventRecord, error) {
	out := make([]store.EventRecord, 0, limit)
	pfx := prefix('j', persistenceID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pfx
		opts.PrefetchSize = limit
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seqKey('j', persistenceID, from)); it.ValidForPrefix(pfx) && len(out) < limit; it.Next() {
			item := it.Item()
			if keySeq(item.Key()) > to {
				break
			}
			var rec store.EventRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return fmt.Errorf("read event: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *Store) HighestSequenceNr(ctx context.Context, persistenceID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = readHighest(txn, persistenceID)
		return err
	})
	return seq, err
}

// DeleteEvents removes entries up to toSequenceNr. The highest sequence
// number key is kept.
func (s *Store) DeleteEvents(ctx context.Context, persistenceID string, toSequenceNr uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(persistenceID); err != nil {
		return err
	}
	var keys [][]byte
	pfx := prefix('j', persistenceID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pfx
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			if keySeq(it.Item().Key()) > toSequenceNr {
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
	}
	return wb.Flush()
}
