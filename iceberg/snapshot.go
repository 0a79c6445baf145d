package iceberg

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SnapshotUpdate describes one snapshot's worth of change: files to add
// and/or a predicate selecting files to remove.
type SnapshotUpdate struct {
	Operation string
	Additions []DataFile
	Removals  Predicate
}

// LoadedManifest pairs a manifest-list entry with its decoded content.
type LoadedManifest struct {
	File     ManifestFile
	Manifest *Manifest
}

// PendingManifest is a manifest waiting to be written at commit time.
type PendingManifest struct {
	Path     string
	Manifest *Manifest
}

// PendingSnapshot is the pure result of building a snapshot: the snapshot
// record, the manifest list, and any manifests that must be written before
// the commit. Nothing here has touched storage yet, so abandoning it has no
// side effects.
type PendingSnapshot struct {
	Snapshot     Snapshot
	ManifestList *ManifestList
	NewManifests []PendingManifest
	RemovedFiles []DataFile
}

// NewSnapshotID picks a random 63-bit snapshot id not already used in the
// table's lineage.
func NewSnapshotID(meta *TableMetadata) int64 {
	for {
		id := rand.Int64N(math.MaxInt64-1) + 1
		if meta.SnapshotByID(id) == nil {
			return id
		}
	}
}

// BuildSnapshot derives a new snapshot from the parent's manifests plus an
// update. Parent manifests are never mutated: untouched manifests are reused
// by reference in the new manifest list, manifests losing files are rewritten
// to fresh paths with removed entries marked deleted, and additions go into a
// new manifest. The operation kind defaults from the shape of the update if
// unset.
func BuildSnapshot(meta *TableMetadata, parents []LoadedManifest, upd SnapshotUpdate, now time.Time) (*PendingSnapshot, error) {
	if len(upd.Additions) == 0 && upd.Removals == nil {
		return nil, fmt.Errorf("empty snapshot update")
	}

	op := upd.Operation
	if op == "" {
		switch {
		case upd.Removals == nil:
			op = OpAppend
		case len(upd.Additions) == 0:
			op = OpDelete
		default:
			op = OpOverwrite
		}
	}

	id := NewSnapshotID(meta)
	pending := &PendingSnapshot{
		ManifestList: &ManifestList{SnapshotID: id},
	}

	var totalFiles, addedFiles, removedFiles int
	var totalRows, addedRows, removedRows int64

	for _, parent := range parents {
		rewritten, matched, err := rewriteManifest(parent.Manifest, upd.Removals, id)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			// No file leaves this manifest; share it with the parent.
			pending.ManifestList.Manifests = append(pending.ManifestList.Manifests, parent.File)
			totalFiles += parent.File.AddedFiles + parent.File.ExistingFiles
			totalRows += parent.File.AddedRows + parent.File.ExistingRows
			continue
		}

		pending.RemovedFiles = append(pending.RemovedFiles, matched...)
		removedFiles += len(matched)
		for _, df := range matched {
			removedRows += df.RecordCount
		}

		path := manifestPath(meta.Location)
		mf := countManifest(path, rewritten)
		pending.NewManifests = append(pending.NewManifests, PendingManifest{Path: path, Manifest: rewritten})
		pending.ManifestList.Manifests = append(pending.ManifestList.Manifests, mf)
		totalFiles += mf.ExistingFiles
		totalRows += mf.ExistingRows
	}

	if len(upd.Additions) > 0 {
		entries := make([]ManifestEntry, 0, len(upd.Additions))
		for _, df := range upd.Additions {
			entries = append(entries, ManifestEntry{
				Status:     EntryAdded,
				SnapshotID: id,
				DataFile:   df,
			})
			addedFiles++
			addedRows += df.RecordCount
		}
		manifest := &Manifest{
			SchemaID: meta.CurrentSchemaID,
			SpecID:   meta.DefaultSpecID,
			Entries:  entries,
		}
		path := manifestPath(meta.Location)
		mf := countManifest(path, manifest)
		pending.NewManifests = append(pending.NewManifests, PendingManifest{Path: path, Manifest: manifest})
		pending.ManifestList.Manifests = append(pending.ManifestList.Manifests, mf)
		totalFiles += addedFiles
		totalRows += addedRows
	}

	parentID := int64(0)
	if meta.CurrentSnapshotID != NoSnapshot {
		parentID = meta.CurrentSnapshotID
	}

	pending.Snapshot = Snapshot{
		SnapshotID:       id,
		ParentSnapshotID: parentID,
		SequenceNumber:   meta.LastSequenceNumber + 1,
		TimestampMs:      now.UnixMilli(),
		ManifestList:     manifestListPath(meta.Location, id),
		Operation:        op,
		Summary: map[string]string{
			"operation":          op,
			"added-data-files":   strconv.Itoa(addedFiles),
			"added-records":      strconv.FormatInt(addedRows, 10),
			"deleted-data-files": strconv.Itoa(removedFiles),
			"deleted-records":    strconv.FormatInt(removedRows, 10),
			"total-data-files":   strconv.Itoa(totalFiles),
			"total-records":      strconv.FormatInt(totalRows, 10),
		},
	}
	return pending, nil
}

// rewriteManifest applies the removal predicate to one parent manifest.
// Returns nil rewritten manifest when nothing matches. Entries already
// deleted in the parent are not carried forward.
func rewriteManifest(m *Manifest, removals Predicate, snapshotID int64) (*Manifest, []DataFile, error) {
	if removals == nil {
		return nil, nil, nil
	}

	var matched []DataFile
	entries := make([]ManifestEntry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if !e.Live() {
			continue
		}
		ok, err := removals.MatchesFile(e.DataFile)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			matched = append(matched, e.DataFile)
			entries = append(entries, ManifestEntry{
				Status:     EntryDeleted,
				SnapshotID: snapshotID,
				DataFile:   e.DataFile,
			})
		} else {
			entries = append(entries, ManifestEntry{
				Status:     EntryExisting,
				SnapshotID: e.SnapshotID,
				DataFile:   e.DataFile,
			})
		}
	}
	if len(matched) == 0 {
		return nil, nil, nil
	}
	return &Manifest{SchemaID: m.SchemaID, SpecID: m.SpecID, Entries: entries}, matched, nil
}

func countManifest(path string, m *Manifest) ManifestFile {
	mf := ManifestFile{Path: path}
	for _, e := range m.Entries {
		switch e.Status {
		case EntryAdded:
			mf.AddedFiles++
			mf.AddedRows += e.DataFile.RecordCount
		case EntryExisting:
			mf.ExistingFiles++
			mf.ExistingRows += e.DataFile.RecordCount
		case EntryDeleted:
			mf.DeletedFiles++
			mf.DeletedRows += e.DataFile.RecordCount
		}
	}
	return mf
}

func manifestPath(location string) string {
	return fmt.Sprintf("%s/metadata/%s.manifest.json", location, uuid.New())
}

func manifestListPath(location string, snapshotID int64) string {
	return fmt.Sprintf("%s/metadata/snap-%d-%s.manifest-list.json", location, snapshotID, uuid.New())
}
