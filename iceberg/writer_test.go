package iceberg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permafrost/catalog"
	"permafrost/schema"
	"permafrost/storage"
)

func TestFileWriterRoundTrip(t *testing.T) {
	tt := newTestTable(t)
	ctx := context.Background()

	meta, _, err := tt.engine.Load(ctx, tt.ident)
	require.NoError(t, err)

	w, err := NewFileWriter(tt.store, meta, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(
		map[string]any{"id": int32(1), "name": "alice"},
		map[string]any{"id": int32(2), "name": "bob"},
	))

	df, err := w.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), df.RecordCount)
	assert.Equal(t, "PARQUET", df.FileFormat)
	assert.Positive(t, df.FileSizeBytes)

	// Writing after Close fails.
	assert.Error(t, w.Write(map[string]any{"id": int32(3)}))

	meta, err = tt.engine.AppendFiles(ctx, tt.ident, df)
	require.NoError(t, err)

	rows, err := ReadRows(ctx, tt.store, meta.CurrentSchema(), df)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0]["name"])
	assert.Equal(t, 1, rows[0]["id"])
	assert.Equal(t, "bob", rows[1]["name"])
}

func TestReadReconcilesByFieldID(t *testing.T) {
	tt := newTestTable(t)
	ctx := context.Background()

	meta, _, err := tt.engine.Load(ctx, tt.ident)
	require.NoError(t, err)

	// File written under the original {id, name} schema.
	w, err := NewFileWriter(tt.store, meta, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]any{"id": int32(7), "name": "carol"}))
	df, err := w.Close(ctx)
	require.NoError(t, err)
	_, err = tt.engine.AppendFiles(ctx, tt.ident, df)
	require.NoError(t, err)

	// Evolve: add "age", rename "name" to "full_name".
	meta, err = tt.engine.EvolveSchema(ctx, tt.ident, schema.Evolution{
		AddedFields: []schema.Field{{Name: "age", Type: "int"}},
		Renames:     map[int]string{2: "full_name"},
	})
	require.NoError(t, err)

	// The old file read under the new schema: the added column is nil, the
	// renamed column resolves by id to its current name.
	rows, err := ReadRows(ctx, tt.store, meta.CurrentSchema(), df)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 7, rows[0]["id"])
	assert.Equal(t, "carol", rows[0]["full_name"])
	assert.Nil(t, rows[0]["age"])
	assert.NotContains(t, rows[0], "name")

	// A file written under the new schema carries all three columns.
	w, err = NewFileWriter(tt.store, meta, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]any{"id": int32(8), "full_name": "dave", "age": int32(30)}))
	df2, err := w.Close(ctx)
	require.NoError(t, err)

	rows, err = ReadRows(ctx, tt.store, meta.CurrentSchema(), df2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 30, rows[0]["age"])
}

func TestScanAfterWriterAppends(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := catalog.NewMemoryCatalog()
	engine := NewEngine(store, cat, nil)
	ident := catalog.Ident{Namespace: "analytics", Name: "metrics"}
	ctx := context.Background()

	meta, err := engine.CreateTable(ctx, ident,
		[]schema.Field{
			{Name: "metric", Type: "string", Required: true},
			{Name: "value", Type: "double"},
		},
		schema.PartitionSpec{}, nil)
	require.NoError(t, err)

	var files []DataFile
	for i := 0; i < 3; i++ {
		w, err := NewFileWriter(store, meta, nil)
		require.NoError(t, err)
		require.NoError(t, w.Write(map[string]any{"metric": "cpu", "value": float64(i)}))
		df, err := w.Close(ctx)
		require.NoError(t, err)
		files = append(files, df)
	}

	meta, err = engine.AppendFiles(ctx, ident, files...)
	require.NoError(t, err)

	live, err := engine.ScanMetadata(ctx, meta, 0)
	require.NoError(t, err)
	assert.Len(t, live, 3)

	var total int64
	for _, df := range live {
		rows, err := ReadRows(ctx, store, meta.CurrentSchema(), df)
		require.NoError(t, err)
		total += int64(len(rows))
	}
	assert.Equal(t, int64(3), total)
}
