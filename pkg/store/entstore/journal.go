package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store"
)

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dbSeq maps a sequence number onto the signed BIGINT column.
func dbSeq(seq uint64) int64 {
	if seq > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(seq)
}

// Append inserts ev if it directly follows the highest stored sequence number.
func (s *Store) Append(ctx context.Context, persistenceID string, ev persistence.PersistentEvent) (uint64, error) {
	ev.PersistenceID = persistenceID
	rec, err := store.EncodeEvent(s.codec, ev)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	highest, err := s.highest(ctx, tx, persistenceID)
	if err != nil {
		return 0, err
	}
	if err := persistence.CheckAppend(persistenceID, highest, ev); err != nil {
		return 0, err
	}
	query, args := s.builder().Insert(journalTable).
		Columns(colEventID, colPersistenceID, colSeq, colManifest, colPayload, colDeleted, colCreatedAt).
		Values(rec.EventID, rec.PersistenceID, dbSeq(rec.Seq), rec.Manifest, rec.Payload, false, rec.CreatedAt.UnixNano()).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		// A concurrent writer took the same sequence number.
		if sqlgraph.IsUniqueConstraintError(err) {
			return 0, &persistence.SequenceConflictError{PersistenceID: persistenceID, Expected: highest + 1, Actual: ev.SequenceNr}
		}
		return 0, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return ev.SequenceNr, nil
}

// ReadEvents pages through the journal lazily, pageSize rows per query.
func (s *Store) ReadEvents(ctx context.Context, persistenceID string, from, to, max uint64) iter.Seq2[persistence.PersistentEvent, error] {
	return func(yield func(persistence.PersistentEvent, error) bool) {
		next, remaining := from, max
		for remaining > 0 && next <= to {
			limit := s.pageSize
			if uint64(limit) > remaining {
				limit = int(remaining)
			}
			recs, err := s.page(ctx, persistenceID, next, to, limit)
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

func (s *Store) page(ctx context.Context, persistenceID string, from, to uint64, limit int) ([]store.EventRecord, error) {
	query, args := s.builder().
		Select(colEventID, colPersistenceID, colSeq, colManifest, colPayload, colCreatedAt).
		From(s.builder().Table(journalTable)).
		Where(entsql.And(
			entsql.EQ(colPersistenceID, persistenceID),
			entsql.GTE(colSeq, dbSeq(from)),
			entsql.LTE(colSeq, dbSeq(to)),
			entsql.EQ(colDeleted, false),
		)).
		OrderBy(entsql.Asc(colSeq)).
		Limit(limit).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out := make([]store.EventRecord, 0, limit)
	for rows.Next() {
		var (
			rec     store.EventRecord
			seq     int64
			created int64
		)
		if err := rows.Scan(&rec.EventID, &rec.PersistenceID, &seq, &rec.Manifest, &rec.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HighestSequenceNr includes logically deleted entries.
func (s *Store) HighestSequenceNr(ctx context.Context, persistenceID string) (uint64, error) {
	return s.highest(ctx, s.db, persistenceID)
}

func (s *Store) highest(ctx context.Context, q rowQuerier, persistenceID string) (uint64, error) {
	query, args := s.builder().
		Select(colSeq).
		From(s.builder().Table(journalTable)).
		Where(entsql.EQ(colPersistenceID, persistenceID)).
		OrderBy(entsql.Desc(colSeq)).
		Limit(1).
		Query()
	var seq int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("highest seq: %w", err)
	}
	return uint64(seq), nil
}

// DeleteEvents marks entries up to toSequenceNr as deleted. Rows are kept so
// the highest sequence number survives.
func (s *Store) DeleteEvents(ctx context.Context, persistenceID string, toSequenceNr uint64) error {
	query, args := s.builder().Update(journalTable).
		Set(colDeleted, true).
		Where(entsql.And(
			entsql.EQ(colPersistenceID, persistenceID),
			entsql.LTE(colSeq, dbSeq(toSequenceNr)),
		)).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}
