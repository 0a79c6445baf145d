// Package iceberg implements a minimal transactional table format: immutable
// snapshots over Parquet data files in object storage, with optimistic
// commits serialized by a catalog pointer swap.
package iceberg

import (
	"encoding/json"

	"permafrost/schema"
)

// FormatVersion is the table format version this engine reads and writes.
const FormatVersion = 2

// Manifest entry statuses.
const (
	EntryAdded    int32 = 1
	EntryExisting int32 = 2
	EntryDeleted  int32 = 3
)

// Snapshot operation kinds.
const (
	OpAppend    = "append"
	OpOverwrite = "overwrite"
	OpDelete    = "delete"
	OpReplace   = "replace"
)

// NoSnapshot is the current-snapshot-id of a table with no committed data.
const NoSnapshot int64 = -1

// DataFile describes one immutable data file referenced by a manifest.
type DataFile struct {
	FilePath      string            `json:"file-path"`
	FileFormat    string            `json:"file-format"`
	Partition     map[string]string `json:"partition,omitempty"`
	RecordCount   int64             `json:"record-count"`
	FileSizeBytes int64             `json:"file-size-in-bytes"`
}

// ManifestEntry is one data file plus its add/delete status. The snapshot id
// records which snapshot added or deleted the file.
type ManifestEntry struct {
	Status     int32    `json:"status"`
	SnapshotID int64    `json:"snapshot-id"`
	DataFile   DataFile `json:"data-file"`
}

// Live reports whether the entry still contributes rows to the table.
func (e ManifestEntry) Live() bool {
	return e.Status != EntryDeleted
}

// Manifest is an immutable ordered list of manifest entries, written once and
// referenced by one or more manifest lists.
type Manifest struct {
	SchemaID int             `json:"schema-id"`
	SpecID   int             `json:"spec-id"`
	Entries  []ManifestEntry `json:"entries"`

	// Extra holds unknown document fields, preserved across round trips.
	Extra map[string]json.RawMessage `json:"-"`
}

// ManifestFile is a manifest-list entry: a manifest path plus entry counts,
// so scans can skip manifests without reading them.
type ManifestFile struct {
	Path          string `json:"manifest-path"`
	AddedFiles    int    `json:"added-files-count"`
	ExistingFiles int    `json:"existing-files-count"`
	DeletedFiles  int    `json:"deleted-files-count"`
	AddedRows     int64  `json:"added-rows-count"`
	ExistingRows  int64  `json:"existing-rows-count"`
	DeletedRows   int64  `json:"deleted-rows-count"`
}

// ManifestList names all manifests making up one snapshot.
type ManifestList struct {
	SnapshotID int64          `json:"snapshot-id"`
	Manifests  []ManifestFile `json:"manifests"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Snapshot is one immutable point in a table's history. Parent ids form the
// lineage chain; the root snapshot has parent 0.
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID int64             `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Operation        string            `json:"operation"`
	Summary          map[string]string `json:"summary,omitempty"`
}

// TableMetadata is the full state of a table at one metadata version. Exactly
// one version is current per table at any instant; commits write a new
// version and swap the catalog pointer, never edit in place.
type TableMetadata struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastUpdatedMs      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	Schemas            []schema.Schema        `json:"schemas"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	PartitionSpecs     []schema.PartitionSpec `json:"partition-specs"`
	LastPartitionID    int                    `json:"last-partition-id"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	CurrentSnapshotID  int64                  `json:"current-snapshot-id"`
	Snapshots          []Snapshot             `json:"snapshots"`
	Properties         map[string]string      `json:"properties,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// CurrentSchema returns the schema identified by current-schema-id.
func (m *TableMetadata) CurrentSchema() *schema.Schema {
	return m.SchemaByID(m.CurrentSchemaID)
}

// SchemaByID returns the schema with the given id, or nil.
func (m *TableMetadata) SchemaByID(id int) *schema.Schema {
	for i := range m.Schemas {
		if m.Schemas[i].SchemaID == id {
			return &m.Schemas[i]
		}
	}
	return nil
}

// DefaultSpec returns the partition spec new writes use.
func (m *TableMetadata) DefaultSpec() *schema.PartitionSpec {
	return m.SpecByID(m.DefaultSpecID)
}

// SpecByID returns the partition spec with the given id, or nil.
func (m *TableMetadata) SpecByID(id int) *schema.PartitionSpec {
	for i := range m.PartitionSpecs {
		if m.PartitionSpecs[i].SpecID == id {
			return &m.PartitionSpecs[i]
		}
	}
	return nil
}

// CurrentSnapshot returns the current snapshot, or nil for an empty table.
func (m *TableMetadata) CurrentSnapshot() *Snapshot {
	if m.CurrentSnapshotID == NoSnapshot {
		return nil
	}
	return m.SnapshotByID(m.CurrentSnapshotID)
}

// SnapshotByID returns the snapshot with the given id, or nil.
func (m *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// SnapshotAsOf returns the most recent snapshot committed at or before the
// given timestamp, or nil if none qualifies.
func (m *TableMetadata) SnapshotAsOf(timestampMs int64) *Snapshot {
	var best *Snapshot
	for i := range m.Snapshots {
		s := &m.Snapshots[i]
		if s.TimestampMs > timestampMs {
			continue
		}
		if best == nil || s.TimestampMs > best.TimestampMs ||
			(s.TimestampMs == best.TimestampMs && s.SequenceNumber > best.SequenceNumber) {
			best = s
		}
	}
	return best
}

// clone returns a deep copy suitable for building the next metadata version.
func (m *TableMetadata) clone() *TableMetadata {
	out := *m

	out.Schemas = make([]schema.Schema, len(m.Schemas))
	for i := range m.Schemas {
		out.Schemas[i] = m.Schemas[i].Clone()
	}

	out.PartitionSpecs = make([]schema.PartitionSpec, len(m.PartitionSpecs))
	copy(out.PartitionSpecs, m.PartitionSpecs)

	out.Snapshots = make([]Snapshot, len(m.Snapshots))
	copy(out.Snapshots, m.Snapshots)

	out.Properties = make(map[string]string, len(m.Properties))
	for k, v := range m.Properties {
		out.Properties[k] = v
	}

	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}
