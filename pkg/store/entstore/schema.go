package entstore

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	journalTable   = "journal"
	snapshotsTable = "snapshots"

	colID            = "id"
	colEventID       = "event_id"
	colSnapshotID    = "snapshot_id"
	colPersistenceID = "persistence_id"
	colSeq           = "seq"
	colManifest      = "manifest"
	colPayload       = "payload"
	colState         = "state"
	colDeleted       = "deleted"
	colCreatedAt     = "created_at"
)

// Timestamps are stored as Unix nanoseconds so range filters behave the same
// on every dialect.
var (
	// JournalColumns holds the columns for the "journal" table.
	JournalColumns = []*schema.Column{
		{Name: colID, Type: field.TypeInt64, Increment: true},
		{Name: colEventID, Type: field.TypeString, Unique: true, Size: 64},
		{Name: colPersistenceID, Type: field.TypeString, Size: 255},
		{Name: colSeq, Type: field.TypeInt64},
		{Name: colManifest, Type: field.TypeString, Size: 255, Default: ""},
		{Name: colPayload, Type: field.TypeBytes, Nullable: true},
		{Name: colDeleted, Type: field.TypeBool, Default: false},
		{Name: colCreatedAt, Type: field.TypeInt64},
	}
	// JournalTable holds the schema information for the "journal" table.
	JournalTable = &schema.Table{
		Name:       journalTable,
		Columns:    JournalColumns,
		PrimaryKey: []*schema.Column{JournalColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "journal_persistence_id_seq",
				Unique:  true,
				Columns: []*schema.Column{JournalColumns[2], JournalColumns[3]},
			},
		},
	}
	// SnapshotsColumns holds the columns for the "snapshots" table.
	SnapshotsColumns = []*schema.Column{
		{Name: colID, Type: field.TypeInt64, Increment: true},
		{Name: colSnapshotID, Type: field.TypeString, Unique: true, Size: 64},
		{Name: colPersistenceID, Type: field.TypeString, Size: 255},
		{Name: colSeq, Type: field.TypeInt64},
		{Name: colManifest, Type: field.TypeString, Size: 255, Default: ""},
		{Name: colState, Type: field.TypeBytes, Nullable: true},
		{Name: colCreatedAt, Type: field.TypeInt64},
	}
	// SnapshotsTable holds the schema information for the "snapshots" table.
	SnapshotsTable = &schema.Table{
		Name:       snapshotsTable,
		Columns:    SnapshotsColumns,
		PrimaryKey: []*schema.Column{SnapshotsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "snapshots_persistence_id_seq",
				Unique:  true,
				Columns: []*schema.Column{SnapshotsColumns[2], SnapshotsColumns[3]},
			},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		JournalTable,
		SnapshotsTable,
	}
)
