package iceberg

import (
	"context"
	"fmt"
	"time"

	"permafrost/schema"
)

// snapshotMutation covers appends, deletes and overwrites: anything that
// produces a new snapshot from file additions and removals.
type snapshotMutation struct {
	update SnapshotUpdate
}

// NewAppend builds a mutation adding files to the table.
func NewAppend(files ...DataFile) Mutation {
	return &snapshotMutation{update: SnapshotUpdate{Operation: OpAppend, Additions: files}}
}

// NewDelete builds a mutation removing every file matched by the predicate.
func NewDelete(pred Predicate) Mutation {
	return &snapshotMutation{update: SnapshotUpdate{Operation: OpDelete, Removals: pred}}
}

// NewOverwrite builds a mutation that replaces matched files with new ones
// in a single snapshot.
func NewOverwrite(pred Predicate, files ...DataFile) Mutation {
	return &snapshotMutation{update: SnapshotUpdate{Operation: OpOverwrite, Additions: files, Removals: pred}}
}

func (m *snapshotMutation) operation() string {
	return m.update.Operation
}

func (m *snapshotMutation) apply(ctx context.Context, e *Engine, base *TableMetadata) (*TableMetadata, []pendingObject, error) {
	for _, df := range m.update.Additions {
		if df.FilePath == "" {
			return nil, nil, fmt.Errorf("data file with empty path")
		}
		if df.RecordCount < 0 || df.FileSizeBytes < 0 {
			return nil, nil, fmt.Errorf("data file %s: negative counts", df.FilePath)
		}
	}

	var parents []LoadedManifest
	if snap := base.CurrentSnapshot(); snap != nil {
		var err error
		parents, err = e.loadManifests(ctx, snap)
		if err != nil {
			return nil, nil, err
		}
	}

	ps, err := BuildSnapshot(base, parents, m.update, time.Now())
	if err != nil {
		return nil, nil, err
	}

	var pending []pendingObject
	for _, pm := range ps.NewManifests {
		data, err := EncodeManifest(pm.Manifest)
		if err != nil {
			return nil, nil, err
		}
		pending = append(pending, pendingObject{key: pm.Path, data: data})
	}
	listData, err := EncodeManifestList(ps.ManifestList)
	if err != nil {
		return nil, nil, err
	}
	pending = append(pending, pendingObject{key: ps.Snapshot.ManifestList, data: listData})

	next := base.clone()
	next.Snapshots = append(next.Snapshots, ps.Snapshot)
	next.CurrentSnapshotID = ps.Snapshot.SnapshotID
	next.LastSequenceNumber = ps.Snapshot.SequenceNumber
	return next, pending, nil
}

// schemaMutation commits a new current schema built by schema.Evolve.
type schemaMutation struct {
	evolution schema.Evolution
}

// NewSchemaChange builds a mutation applying a schema evolution.
func NewSchemaChange(ev schema.Evolution) Mutation {
	return &schemaMutation{evolution: ev}
}

func (m *schemaMutation) operation() string { return "schema-change" }

func (m *schemaMutation) apply(ctx context.Context, e *Engine, base *TableMetadata) (*TableMetadata, []pendingObject, error) {
	if m.evolution.IsEmpty() {
		return nil, nil, fmt.Errorf("empty schema evolution")
	}

	// Fields feeding the default partition spec cannot be dropped while the
	// spec is in effect.
	if spec := base.DefaultSpec(); spec != nil {
		for _, dropped := range m.evolution.DroppedFieldIDs {
			for _, pf := range spec.Fields {
				if pf.SourceID == dropped {
					return nil, nil, fmt.Errorf("field id %d is a partition source of spec %d", dropped, spec.SpecID)
				}
			}
		}
	}

	fields, lastColumnID, err := schema.Evolve(base.CurrentSchema(), base.LastColumnID, m.evolution)
	if err != nil {
		return nil, nil, err
	}

	nextSchemaID := 0
	for _, s := range base.Schemas {
		if s.SchemaID >= nextSchemaID {
			nextSchemaID = s.SchemaID + 1
		}
	}

	next := base.clone()
	next.Schemas = append(next.Schemas, schema.Schema{SchemaID: nextSchemaID, Fields: fields})
	next.CurrentSchemaID = nextSchemaID
	next.LastColumnID = lastColumnID
	return next, nil, nil
}

// specMutation commits a new default partition spec. The old spec is kept;
// files written under it stay valid.
type specMutation struct {
	fields []schema.PartitionField
}

// NewSpecChange builds a mutation replacing the default partition spec.
func NewSpecChange(fields []schema.PartitionField) Mutation {
	return &specMutation{fields: fields}
}

func (m *specMutation) operation() string { return "spec-change" }

func (m *specMutation) apply(ctx context.Context, e *Engine, base *TableMetadata) (*TableMetadata, []pendingObject, error) {
	next := base.clone()

	lastPartitionID := next.LastPartitionID
	fields := make([]schema.PartitionField, len(m.fields))
	for i, pf := range m.fields {
		// A structurally identical field in any historical spec keeps its id.
		if id, ok := findPartitionFieldID(base, pf); ok {
			pf.FieldID = id
		} else {
			lastPartitionID++
			pf.FieldID = lastPartitionID
		}
		fields[i] = pf
	}

	spec := schema.PartitionSpec{Fields: fields}
	if current := base.DefaultSpec(); current != nil && current.Equal(&spec) {
		return nil, nil, fmt.Errorf("partition spec unchanged")
	}
	for _, s := range base.PartitionSpecs {
		if s.SpecID >= spec.SpecID {
			spec.SpecID = s.SpecID + 1
		}
	}
	if err := spec.Validate(base.CurrentSchema()); err != nil {
		return nil, nil, err
	}

	next.PartitionSpecs = append(next.PartitionSpecs, spec)
	next.DefaultSpecID = spec.SpecID
	next.LastPartitionID = lastPartitionID
	return next, nil, nil
}

func findPartitionFieldID(meta *TableMetadata, pf schema.PartitionField) (int, bool) {
	for _, spec := range meta.PartitionSpecs {
		for _, existing := range spec.Fields {
			if existing.SourceID == pf.SourceID &&
				existing.Transform == pf.Transform &&
				existing.Name == pf.Name {
				return existing.FieldID, true
			}
		}
	}
	return 0, false
}

// rollbackMutation moves the current-snapshot pointer to an earlier snapshot
// while preserving all history, including snapshots after the target.
type rollbackMutation struct {
	target int64
}

// NewRollback builds a mutation setting the current snapshot to target.
func NewRollback(targetSnapshotID int64) Mutation {
	return &rollbackMutation{target: targetSnapshotID}
}

func (m *rollbackMutation) operation() string { return "rollback" }

func (m *rollbackMutation) apply(ctx context.Context, e *Engine, base *TableMetadata) (*TableMetadata, []pendingObject, error) {
	if base.SnapshotByID(m.target) == nil {
		return nil, nil, fmt.Errorf("snapshot %d: %w", m.target, ErrUnknownSnapshot)
	}
	next := base.clone()
	next.CurrentSnapshotID = m.target
	return next, nil, nil
}

// propertiesMutation sets and unsets table properties.
type propertiesMutation struct {
	set   map[string]string
	unset []string
}

// NewPropertiesChange builds a mutation updating table properties.
func NewPropertiesChange(set map[string]string, unset ...string) Mutation {
	return &propertiesMutation{set: set, unset: unset}
}

func (m *propertiesMutation) operation() string { return "properties-change" }

func (m *propertiesMutation) apply(ctx context.Context, e *Engine, base *TableMetadata) (*TableMetadata, []pendingObject, error) {
	if len(m.set) == 0 && len(m.unset) == 0 {
		return nil, nil, fmt.Errorf("empty properties change")
	}
	next := base.clone()
	for k, v := range m.set {
		next.Properties[k] = v
	}
	for _, k := range m.unset {
		delete(next.Properties, k)
	}
	return next, nil, nil
}
