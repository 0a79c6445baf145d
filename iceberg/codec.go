package iceberg

import (
	"encoding/json"
	"fmt"
)

// The codec serializes metadata documents as JSON. Fields this engine does
// not know about are carried in Extra and re-emitted on write, so documents
// produced by newer writers survive a read-modify-write cycle here.

var knownMetadataKeys = map[string]bool{
	"format-version":       true,
	"table-uuid":           true,
	"location":             true,
	"last-updated-ms":      true,
	"last-column-id":       true,
	"current-schema-id":    true,
	"schemas":              true,
	"default-spec-id":      true,
	"partition-specs":      true,
	"last-partition-id":    true,
	"last-sequence-number": true,
	"current-snapshot-id":  true,
	"snapshots":            true,
	"properties":           true,
}

var knownManifestKeys = map[string]bool{
	"schema-id": true,
	"spec-id":   true,
	"entries":   true,
}

var knownManifestListKeys = map[string]bool{
	"snapshot-id": true,
	"manifests":   true,
}

// EncodeMetadata serializes a metadata document, merging preserved unknown
// fields back in. Known fields always win over stale Extra entries.
func EncodeMetadata(m *TableMetadata) ([]byte, error) {
	return encodeWithExtra(m, m.Extra)
}

// DecodeMetadata parses and validates a metadata document.
func DecodeMetadata(location string, data []byte) (*TableMetadata, error) {
	var m TableMetadata
	extra, err := decodeWithExtra(data, &m, knownMetadataKeys)
	if err != nil {
		return nil, &CorruptMetadataError{Location: location, Reason: "not a valid metadata document", Err: err}
	}
	m.Extra = extra
	if err := validateMetadata(&m); err != nil {
		return nil, &CorruptMetadataError{Location: location, Reason: err.Error()}
	}
	return &m, nil
}

// EncodeManifest serializes a manifest document.
func EncodeManifest(m *Manifest) ([]byte, error) {
	return encodeWithExtra(m, m.Extra)
}

// DecodeManifest parses and validates a manifest document.
func DecodeManifest(location string, data []byte) (*Manifest, error) {
	var m Manifest
	extra, err := decodeWithExtra(data, &m, knownManifestKeys)
	if err != nil {
		return nil, &CorruptMetadataError{Location: location, Reason: "not a valid manifest document", Err: err}
	}
	m.Extra = extra
	for i, e := range m.Entries {
		switch e.Status {
		case EntryAdded, EntryExisting, EntryDeleted:
		default:
			return nil, &CorruptMetadataError{
				Location: location,
				Reason:   fmt.Sprintf("entry %d: invalid status %d", i, e.Status),
			}
		}
		if e.DataFile.FilePath == "" {
			return nil, &CorruptMetadataError{
				Location: location,
				Reason:   fmt.Sprintf("entry %d: missing file path", i),
			}
		}
	}
	return &m, nil
}

// EncodeManifestList serializes a manifest-list document.
func EncodeManifestList(l *ManifestList) ([]byte, error) {
	return encodeWithExtra(l, l.Extra)
}

// DecodeManifestList parses and validates a manifest-list document.
func DecodeManifestList(location string, data []byte) (*ManifestList, error) {
	var l ManifestList
	extra, err := decodeWithExtra(data, &l, knownManifestListKeys)
	if err != nil {
		return nil, &CorruptMetadataError{Location: location, Reason: "not a valid manifest list", Err: err}
	}
	l.Extra = extra
	for i, mf := range l.Manifests {
		if mf.Path == "" {
			return nil, &CorruptMetadataError{
				Location: location,
				Reason:   fmt.Sprintf("manifest %d: missing path", i),
			}
		}
	}
	return &l, nil
}

func encodeWithExtra(doc any, extra map[string]json.RawMessage) ([]byte, error) {
	known, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	if len(extra) == 0 {
		var out json.RawMessage = known
		return json.MarshalIndent(out, "", "  ")
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, fmt.Errorf("merging unknown fields: %w", err)
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.MarshalIndent(merged, "", "  ")
}

func decodeWithExtra(data []byte, doc any, knownKeys map[string]bool) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}

	var extra map[string]json.RawMessage
	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra, nil
}

func validateMetadata(m *TableMetadata) error {
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported format version %d", m.FormatVersion)
	}
	if m.TableUUID == "" {
		return fmt.Errorf("missing table-uuid")
	}
	if m.Location == "" {
		return fmt.Errorf("missing location")
	}
	if len(m.Schemas) == 0 {
		return fmt.Errorf("no schemas")
	}

	schemaIDs := make(map[int]bool, len(m.Schemas))
	for i := range m.Schemas {
		s := &m.Schemas[i]
		if schemaIDs[s.SchemaID] {
			return fmt.Errorf("duplicate schema id %d", s.SchemaID)
		}
		schemaIDs[s.SchemaID] = true
		if err := s.Validate(); err != nil {
			return fmt.Errorf("schema %d: %w", s.SchemaID, err)
		}
	}
	if !schemaIDs[m.CurrentSchemaID] {
		return fmt.Errorf("current-schema-id %d not in schemas", m.CurrentSchemaID)
	}

	specIDs := make(map[int]bool, len(m.PartitionSpecs))
	for i := range m.PartitionSpecs {
		p := &m.PartitionSpecs[i]
		if specIDs[p.SpecID] {
			return fmt.Errorf("duplicate partition spec id %d", p.SpecID)
		}
		specIDs[p.SpecID] = true
	}
	if len(m.PartitionSpecs) > 0 && !specIDs[m.DefaultSpecID] {
		return fmt.Errorf("default-spec-id %d not in partition-specs", m.DefaultSpecID)
	}
	// The default spec must resolve against the current schema. Historical
	// specs may reference dropped fields and are only checked structurally.
	if spec := m.SpecByID(m.DefaultSpecID); spec != nil {
		if err := spec.Validate(m.CurrentSchema()); err != nil {
			return fmt.Errorf("default partition spec: %w", err)
		}
	}

	snapIDs := make(map[int64]bool, len(m.Snapshots))
	for i := range m.Snapshots {
		s := &m.Snapshots[i]
		if s.SnapshotID <= 0 {
			return fmt.Errorf("snapshot %d: invalid id %d", i, s.SnapshotID)
		}
		if snapIDs[s.SnapshotID] {
			return fmt.Errorf("duplicate snapshot id %d", s.SnapshotID)
		}
		if s.ManifestList == "" {
			return fmt.Errorf("snapshot %d: missing manifest list", s.SnapshotID)
		}
		snapIDs[s.SnapshotID] = true
	}
	if m.CurrentSnapshotID != NoSnapshot && !snapIDs[m.CurrentSnapshotID] {
		return fmt.Errorf("current-snapshot-id %d not in snapshots", m.CurrentSnapshotID)
	}
	return nil
}
