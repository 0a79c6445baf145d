package iceberg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"permafrost/catalog"
	"permafrost/schema"
	"permafrost/storage"
)

// Engine owns all mutation logic for table metadata. Every commit follows the
// same shape: load the base metadata version, build the next version as pure
// in-memory state, write it plus any new manifests as fresh immutable
// objects, then swap the catalog pointer. The swap is the only serialization
// point; losing it surfaces as ErrConcurrentModification and leaves nothing
// behind but orphaned immutable objects.
type Engine struct {
	store   storage.Storage
	catalog catalog.Catalog
	log     *slog.Logger
}

func NewEngine(store storage.Storage, cat catalog.Catalog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, catalog: cat, log: logger}
}

// CreateTable writes an initial metadata version (no snapshots) and registers
// it in the catalog. Field ids are assigned by position starting at 1; any
// ids on the input fields are ignored. Partition fields reference those
// assigned ids and get ids of their own starting at 1000.
func (e *Engine) CreateTable(ctx context.Context, ident catalog.Ident, fields []schema.Field, spec schema.PartitionSpec, props map[string]string) (*TableMetadata, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("create table %s: empty schema", ident)
	}

	sch := schema.Schema{SchemaID: 0, Fields: make([]schema.Field, len(fields))}
	for i, f := range fields {
		f.ID = i + 1
		sch.Fields[i] = f
	}
	if err := sch.Validate(); err != nil {
		return nil, fmt.Errorf("create table %s: %w", ident, err)
	}

	spec.SpecID = 0
	lastPartitionID := schema.PartitionFieldIDStart - 1
	for i := range spec.Fields {
		if spec.Fields[i].FieldID == 0 {
			lastPartitionID++
			spec.Fields[i].FieldID = lastPartitionID
		} else if spec.Fields[i].FieldID > lastPartitionID {
			lastPartitionID = spec.Fields[i].FieldID
		}
	}
	if err := spec.Validate(&sch); err != nil {
		return nil, fmt.Errorf("create table %s: %w", ident, err)
	}

	if props == nil {
		props = map[string]string{}
	}
	location := ident.Namespace + "/" + ident.Name
	meta := &TableMetadata{
		FormatVersion:     FormatVersion,
		TableUUID:         uuid.New().String(),
		Location:          location,
		LastUpdatedMs:     time.Now().UnixMilli(),
		LastColumnID:      len(sch.Fields),
		CurrentSchemaID:   sch.SchemaID,
		Schemas:           []schema.Schema{sch},
		DefaultSpecID:     spec.SpecID,
		PartitionSpecs:    []schema.PartitionSpec{spec},
		LastPartitionID:   lastPartitionID,
		CurrentSnapshotID: NoSnapshot,
		Properties:        props,
	}

	key := metadataPath(location, 1)
	data, err := EncodeMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", ident, err)
	}
	if err := e.store.Write(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("create table %s: writing metadata: %w", ident, err)
	}

	if err := e.catalog.CreateEntry(ctx, ident, key); err != nil {
		// The metadata object is orphaned but harmless.
		return nil, fmt.Errorf("create table %s: %w", ident, err)
	}

	e.log.Info("table created", "table", ident.String(), "location", location, "metadata", key)
	return meta, nil
}

// Load resolves the table's current metadata and the catalog pointer it was
// read from. The pointer is the base version for a subsequent Commit.
func (e *Engine) Load(ctx context.Context, ident catalog.Ident) (*TableMetadata, string, error) {
	loc, err := e.catalog.CurrentPointer(ctx, ident)
	if err != nil {
		return nil, "", fmt.Errorf("loading table %s: %w", ident, err)
	}
	data, err := storage.ReadAll(ctx, e.store, loc)
	if err != nil {
		return nil, "", fmt.Errorf("loading table %s: %w", ident, err)
	}
	meta, err := DecodeMetadata(loc, data)
	if err != nil {
		return nil, "", err
	}
	return meta, loc, nil
}

// Drop removes the table's catalog entry. Data and metadata objects are left
// behind; cleaning them up is a separate concern.
func (e *Engine) Drop(ctx context.Context, ident catalog.Ident) error {
	if err := e.catalog.DropEntry(ctx, ident); err != nil {
		return fmt.Errorf("dropping table %s: %w", ident, err)
	}
	e.log.Info("table dropped", "table", ident.String())
	return nil
}

// pendingObject is an immutable object that must be durable before the
// pointer swap makes it reachable.
type pendingObject struct {
	key  string
	data []byte
}

// Mutation builds the next metadata version from a base version. Mutations
// perform no writes themselves; the engine persists whatever they return.
type Mutation interface {
	operation() string
	apply(ctx context.Context, e *Engine, base *TableMetadata) (*TableMetadata, []pendingObject, error)
}

// Commit applies a mutation against the metadata version at baseLocation and
// atomically advances the catalog pointer. If any other commit won since the
// caller read baseLocation, the result is ErrConcurrentModification and the
// caller must reload and retry; the engine never retries on its own.
func (e *Engine) Commit(ctx context.Context, ident catalog.Ident, baseLocation string, m Mutation) (*TableMetadata, error) {
	current, err := e.catalog.CurrentPointer(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("commit %s to %s: %w", m.operation(), ident, err)
	}
	if current != baseLocation {
		return nil, fmt.Errorf("commit %s to %s: base %s superseded by %s: %w",
			m.operation(), ident, baseLocation, current, ErrConcurrentModification)
	}

	data, err := storage.ReadAll(ctx, e.store, baseLocation)
	if err != nil {
		return nil, fmt.Errorf("commit %s to %s: %w", m.operation(), ident, err)
	}
	base, err := DecodeMetadata(baseLocation, data)
	if err != nil {
		return nil, err
	}

	next, pending, err := m.apply(ctx, e, base)
	if err != nil {
		return nil, fmt.Errorf("commit %s to %s: %w", m.operation(), ident, err)
	}
	next.LastUpdatedMs = time.Now().UnixMilli()

	newKey := metadataPath(base.Location, metadataVersion(baseLocation)+1)
	encoded, err := EncodeMetadata(next)
	if err != nil {
		return nil, fmt.Errorf("commit %s to %s: %w", m.operation(), ident, err)
	}

	for _, obj := range pending {
		if err := e.store.Write(ctx, obj.key, bytes.NewReader(obj.data)); err != nil {
			return nil, fmt.Errorf("commit %s to %s: writing %s: %w", m.operation(), ident, obj.key, err)
		}
	}
	if err := e.store.Write(ctx, newKey, bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("commit %s to %s: writing metadata: %w", m.operation(), ident, err)
	}

	swapped, err := e.catalog.SwapPointer(ctx, ident, baseLocation, newKey)
	if err != nil {
		return nil, fmt.Errorf("commit %s to %s: %w", m.operation(), ident, err)
	}
	if !swapped {
		return nil, fmt.Errorf("commit %s to %s: lost pointer race at %s: %w",
			m.operation(), ident, baseLocation, ErrConcurrentModification)
	}

	e.log.Info("commit applied",
		"table", ident.String(),
		"operation", m.operation(),
		"metadata", newKey,
		"snapshot", next.CurrentSnapshotID,
	)
	return next, nil
}

// AppendFiles commits a new snapshot adding the given files to the table's
// current state.
func (e *Engine) AppendFiles(ctx context.Context, ident catalog.Ident, files ...DataFile) (*TableMetadata, error) {
	_, loc, err := e.Load(ctx, ident)
	if err != nil {
		return nil, err
	}
	return e.Commit(ctx, ident, loc, NewAppend(files...))
}

// DeleteWhere commits a snapshot removing every file the predicate matches,
// wholesale. Predicates that cannot be decided per file fail with
// UnsupportedPredicateError before anything is written.
func (e *Engine) DeleteWhere(ctx context.Context, ident catalog.Ident, pred Predicate) (*TableMetadata, error) {
	_, loc, err := e.Load(ctx, ident)
	if err != nil {
		return nil, err
	}
	return e.Commit(ctx, ident, loc, NewDelete(pred))
}

// OverwriteFiles commits a snapshot that removes matching files and adds
// replacements in one atomic step.
func (e *Engine) OverwriteFiles(ctx context.Context, ident catalog.Ident, pred Predicate, files ...DataFile) (*TableMetadata, error) {
	_, loc, err := e.Load(ctx, ident)
	if err != nil {
		return nil, err
	}
	return e.Commit(ctx, ident, loc, NewOverwrite(pred, files...))
}

// EvolveSchema commits a new current schema. Existing data files are not
// rewritten; readers reconcile them by field id.
func (e *Engine) EvolveSchema(ctx context.Context, ident catalog.Ident, ev schema.Evolution) (*TableMetadata, error) {
	_, loc, err := e.Load(ctx, ident)
	if err != nil {
		return nil, err
	}
	return e.Commit(ctx, ident, loc, NewSchemaChange(ev))
}

// Rollback points the table back at an earlier snapshot without discarding
// any history.
func (e *Engine) Rollback(ctx context.Context, ident catalog.Ident, targetSnapshotID int64) (*TableMetadata, error) {
	_, loc, err := e.Load(ctx, ident)
	if err != nil {
		return nil, err
	}
	return e.Commit(ctx, ident, loc, NewRollback(targetSnapshotID))
}

// ScanFiles resolves the live data files of a snapshot. A snapshotID of 0
// means the current snapshot; an empty table scans to nothing.
func (e *Engine) ScanFiles(ctx context.Context, ident catalog.Ident, snapshotID int64) ([]DataFile, error) {
	meta, _, err := e.Load(ctx, ident)
	if err != nil {
		return nil, err
	}
	return e.ScanMetadata(ctx, meta, snapshotID)
}

// ScanMetadata is ScanFiles against already-loaded metadata, for callers that
// pin a version across several reads.
func (e *Engine) ScanMetadata(ctx context.Context, meta *TableMetadata, snapshotID int64) ([]DataFile, error) {
	var snap *Snapshot
	if snapshotID == 0 {
		snap = meta.CurrentSnapshot()
		if snap == nil {
			return nil, nil
		}
	} else {
		snap = meta.SnapshotByID(snapshotID)
		if snap == nil {
			return nil, fmt.Errorf("scanning %s at snapshot %d: %w", meta.Location, snapshotID, ErrSnapshotNotFound)
		}
	}

	loaded, err := e.loadManifests(ctx, snap)
	if err != nil {
		return nil, err
	}

	var files []DataFile
	for _, lm := range loaded {
		for _, entry := range lm.Manifest.Entries {
			if entry.Live() {
				files = append(files, entry.DataFile)
			}
		}
	}
	return files, nil
}

// loadManifests reads a snapshot's manifest list and every manifest in it.
func (e *Engine) loadManifests(ctx context.Context, snap *Snapshot) ([]LoadedManifest, error) {
	data, err := storage.ReadAll(ctx, e.store, snap.ManifestList)
	if err != nil {
		return nil, fmt.Errorf("reading manifest list %s: %w", snap.ManifestList, err)
	}
	list, err := DecodeManifestList(snap.ManifestList, data)
	if err != nil {
		return nil, err
	}

	loaded := make([]LoadedManifest, 0, len(list.Manifests))
	for _, mf := range list.Manifests {
		data, err := storage.ReadAll(ctx, e.store, mf.Path)
		if err != nil {
			return nil, fmt.Errorf("reading manifest %s: %w", mf.Path, err)
		}
		m, err := DecodeManifest(mf.Path, data)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, LoadedManifest{File: mf, Manifest: m})
	}
	return loaded, nil
}

var metadataFilePattern = regexp.MustCompile(`v(\d+)-[0-9a-f-]+\.metadata\.json$`)

func metadataPath(location string, version int) string {
	return fmt.Sprintf("%s/metadata/v%05d-%s.metadata.json", location, version, uuid.New())
}

func metadataVersion(key string) int {
	m := metadataFilePattern.FindStringSubmatch(key)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
