package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store"
)

// Save stores a snapshot; unique per (persistence_id, seq), replacing an
// existing one.
func (s *Store) Save(ctx context.Context, meta persistence.SnapshotMetadata, state any) error {
	if meta.PersistenceID == "" {
		return persistence.ErrPersistenceIDRequired
	}
	rec, err := store.EncodeSnapshot(s.codec, meta, state)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	del, delArgs := s.builder().Delete(snapshotsTable).
		Where(entsql.And(
			entsql.EQ(colPersistenceID, rec.PersistenceID),
			entsql.EQ(colSeq, dbSeq(rec.UptoSeq)),
		)).
		Query()
	if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	ins, insArgs := s.builder().Insert(snapshotsTable).
		Columns(colSnapshotID, colPersistenceID, colSeq, colManifest, colState, colCreatedAt).
		Values(rec.SnapshotID, rec.PersistenceID, dbSeq(rec.UptoSeq), rec.Manifest, rec.State, rec.CreatedAt.UnixNano()).
		Query()
	if _, err := tx.ExecContext(ctx, ins, insArgs...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return tx.Commit()
}

// Load returns the newest snapshot matching criteria.
func (s *Store) Load(ctx context.Context, persistenceID string, criteria persistence.SnapshotSelectionCriteria) (persistence.SelectedSnapshot, bool, error) {
	if criteria.IsNone() {
		return persistence.SelectedSnapshot{}, false, nil
	}
	preds := []*entsql.Predicate{
		entsql.EQ(colPersistenceID, persistenceID),
		entsql.LTE(colSeq, dbSeq(criteria.MaxSequenceNr)),
		entsql.GTE(colSeq, dbSeq(criteria.MinSequenceNr)),
	}
	if !criteria.MaxTimestamp.IsZero() {
		preds = append(preds, entsql.LTE(colCreatedAt, criteria.MaxTimestamp.UnixNano()))
	}
	if !criteria.MinTimestamp.IsZero() {
		preds = append(preds, entsql.GTE(colCreatedAt, criteria.MinTimestamp.UnixNano()))
	}
	query, args := s.builder().
		Select(colSnapshotID, colPersistenceID, colSeq, colManifest, colState, colCreatedAt).
		From(s.builder().Table(snapshotsTable)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc(colSeq)).
		Limit(1).
		Query()
	var (
		rec     store.SnapshotRecord
		seq     int64
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&rec.SnapshotID, &rec.PersistenceID, &seq, &rec.Manifest, &rec.State, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.SelectedSnapshot{}, false, nil
		}
		return persistence.SelectedSnapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	rec.UptoSeq = uint64(seq)
	rec.CreatedAt = time.Unix(0, created).UTC()
	sel, err := store.DecodeSnapshot(s.codec, rec)
	if err != nil {
		return persistence.SelectedSnapshot{}, false, err
	}
	return sel, true, nil
}
