// Package store defines the serialized record model shared by the durable
// journal and snapshot backends. Implementations must provide identical
// semantics across backends to support deterministic replay and portability.
package store

import (
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/persistor/pkg/persistence"
)

// Store aggregates a journal and a snapshot store over one backend.
type Store interface {
	persistence.Journal
	persistence.SnapshotStore
	io.Closer
}

// EventRecord is the persisted representation of a journal entry.
// Manifest names the payload type for the Codec; Payload holds its bytes.
type EventRecord struct {
	EventID       string
	PersistenceID string
	Seq           uint64
	Manifest      string
	Payload       []byte
	CreatedAt     time.Time
}

// SnapshotRecord stores a materialized state up to a given sequence.
type SnapshotRecord struct {
	SnapshotID    string
	PersistenceID string
	UptoSeq       uint64
	Manifest      string
	State         []byte
	CreatedAt     time.Time
}

// EncodeEvent serializes ev with codec. A zero timestamp is set to now.
func EncodeEvent(codec Codec, ev persistence.PersistentEvent) (EventRecord, error) {
	manifest, data, err := codec.Encode(ev.Payload)
	if err != nil {
		return EventRecord{}, err
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return EventRecord{
		EventID:       uuid.NewString(),
		PersistenceID: ev.PersistenceID,
		Seq:           ev.SequenceNr,
		Manifest:      manifest,
		Payload:       data,
		CreatedAt:     ts,
	}, nil
}

// DecodeEvent restores a journal entry from its record.
func DecodeEvent(codec Codec, rec EventRecord) (persistence.PersistentEvent, error) {
	payload, err := codec.Decode(rec.Manifest, rec.Payload)
	if err != nil {
		return persistence.PersistentEvent{}, err
	}
	return persistence.PersistentEvent{
		PersistenceID: rec.PersistenceID,
		SequenceNr:    rec.Seq,
		Payload:       payload,
		Timestamp:     rec.CreatedAt,
	}, nil
}

// EncodeSnapshot serializes a snapshot with codec.
func EncodeSnapshot(codec Codec, meta persistence.SnapshotMetadata, state any) (SnapshotRecord, error) {
	manifest, data, err := codec.Encode(state)
	if err != nil {
		return SnapshotRecord{}, err
	}
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return SnapshotRecord{
		SnapshotID:    uuid.NewString(),
		PersistenceID: meta.PersistenceID,
		UptoSeq:       meta.SequenceNr,
		Manifest:      manifest,
		State:         data,
		CreatedAt:     ts,
	}, nil
}

// DecodeSnapshot restores a snapshot from its record.
func DecodeSnapshot(codec Codec, rec SnapshotRecord) (persistence.SelectedSnapshot, error) {
	state, err := codec.Decode(rec.Manifest, rec.State)
	if err != nil {
		return persistence.SelectedSnapshot{}, err
	}
	return persistence.SelectedSnapshot{
		Metadata: rec.Metadata(),
		State:    state,
	}, nil
}

// Metadata returns the selection metadata of the record.
func (r SnapshotRecord) Metadata() persistence.SnapshotMetadata {
	return persistence.SnapshotMetadata{PersistenceID: r.PersistenceID, SequenceNr: r.UptoSeq, Timestamp: r.CreatedAt}
}
