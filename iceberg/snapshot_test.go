package iceberg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotBase() *TableMetadata {
	meta := testMetadata()
	meta.Snapshots = []Snapshot{{
		SnapshotID:     11,
		SequenceNumber: 1,
		TimestampMs:    1000,
		ManifestList:   "analytics/events/metadata/snap-11.manifest-list.json",
		Operation:      OpAppend,
	}}
	meta.CurrentSnapshotID = 11
	meta.LastSequenceNumber = 1
	return meta
}

func parentManifest() LoadedManifest {
	m := &Manifest{Entries: []ManifestEntry{
		{Status: EntryAdded, SnapshotID: 11, DataFile: partitionedFile("p1.parquet", 4, "2024-01-01")},
		{Status: EntryAdded, SnapshotID: 11, DataFile: partitionedFile("p2.parquet", 6, "2024-01-02")},
	}}
	return LoadedManifest{File: countManifest("m-11.manifest.json", m), Manifest: m}
}

func TestBuildSnapshotAppendSharesParentManifests(t *testing.T) {
	meta := snapshotBase()
	parent := parentManifest()

	ps, err := BuildSnapshot(meta, []LoadedManifest{parent}, SnapshotUpdate{
		Operation: OpAppend,
		Additions: []DataFile{dataFile("p3.parquet", 5)},
	}, time.UnixMilli(2000))
	require.NoError(t, err)

	assert.Equal(t, int64(11), ps.Snapshot.ParentSnapshotID)
	assert.Equal(t, int64(2), ps.Snapshot.SequenceNumber)
	assert.Equal(t, int64(2000), ps.Snapshot.TimestampMs)
	assert.NotEqual(t, int64(11), ps.Snapshot.SnapshotID)

	// The untouched parent manifest is shared by reference, and only the
	// addition manifest is new.
	require.Len(t, ps.ManifestList.Manifests, 2)
	assert.Equal(t, parent.File, ps.ManifestList.Manifests[0])
	require.Len(t, ps.NewManifests, 1)
	assert.Equal(t, EntryAdded, int32(ps.NewManifests[0].Manifest.Entries[0].Status))

	assert.Equal(t, "1", ps.Snapshot.Summary["added-data-files"])
	assert.Equal(t, "5", ps.Snapshot.Summary["added-records"])
	assert.Equal(t, "3", ps.Snapshot.Summary["total-data-files"])
	assert.Equal(t, "15", ps.Snapshot.Summary["total-records"])
}

func TestBuildSnapshotDeleteRewritesWithoutMutatingParent(t *testing.T) {
	meta := snapshotBase()
	parent := parentManifest()

	ps, err := BuildSnapshot(meta, []LoadedManifest{parent}, SnapshotUpdate{
		Operation: OpDelete,
		Removals:  PartitionEquals{Name: "day", Value: "2024-01-01"},
	}, time.UnixMilli(2000))
	require.NoError(t, err)

	// Parent manifest content is untouched.
	assert.Equal(t, EntryAdded, int32(parent.Manifest.Entries[0].Status))

	require.Len(t, ps.NewManifests, 1)
	rewritten := ps.NewManifests[0].Manifest
	require.Len(t, rewritten.Entries, 2)
	assert.Equal(t, EntryDeleted, int32(rewritten.Entries[0].Status))
	assert.Equal(t, ps.Snapshot.SnapshotID, rewritten.Entries[0].SnapshotID)
	assert.Equal(t, EntryExisting, int32(rewritten.Entries[1].Status))
	assert.Equal(t, int64(11), rewritten.Entries[1].SnapshotID)

	require.Len(t, ps.RemovedFiles, 1)
	assert.Equal(t, "analytics/events/data/p1.parquet", ps.RemovedFiles[0].FilePath)
	assert.Equal(t, "6", ps.Snapshot.Summary["total-records"])
}

func TestBuildSnapshotEmptyUpdate(t *testing.T) {
	meta := snapshotBase()
	_, err := BuildSnapshot(meta, nil, SnapshotUpdate{}, time.Now())
	assert.Error(t, err)
}

func TestNewSnapshotIDAvoidsLineage(t *testing.T) {
	meta := snapshotBase()
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := NewSnapshotID(meta)
		assert.Positive(t, id)
		assert.Nil(t, meta.SnapshotByID(id))
		seen[id] = true
	}
	// Random 63-bit ids should essentially never collide in 100 draws.
	assert.Greater(t, len(seen), 99)
}

func TestSnapshotAsOf(t *testing.T) {
	meta := snapshotBase()
	meta.Snapshots = append(meta.Snapshots, Snapshot{
		SnapshotID:     22,
		SequenceNumber: 2,
		TimestampMs:    5000,
		ManifestList:   "l2",
	})

	assert.Nil(t, meta.SnapshotAsOf(999))
	assert.Equal(t, int64(11), meta.SnapshotAsOf(1000).SnapshotID)
	assert.Equal(t, int64(11), meta.SnapshotAsOf(4999).SnapshotID)
	assert.Equal(t, int64(22), meta.SnapshotAsOf(5000).SnapshotID)
}
