package iceberg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"permafrost/schema"
	"permafrost/storage"
)

// fieldIDsMetadataKey is the Parquet key/value metadata entry mapping column
// names to table field ids. Readers use it to reconcile files written under
// older schemas against the schema they are read with.
const fieldIDsMetadataKey = "permafrost.field-ids"

// FileWriter buffers rows for one Parquet data file in memory and uploads it
// as a single immutable object on Close. Rows are maps keyed by column name.
type FileWriter struct {
	store     storage.Storage
	schema    *schema.Schema
	partition map[string]string
	path      string
	buf       *storage.Buffer
	writer    *parquet.GenericWriter[map[string]any]
	records   int64
	closed    bool
}

// NewFileWriter opens a writer for one data file under the table's current
// schema and the given partition values.
func NewFileWriter(store storage.Storage, meta *TableMetadata, partition map[string]string) (*FileWriter, error) {
	sch := meta.CurrentSchema()

	parquetSchema, err := parquetSchemaFor(sch)
	if err != nil {
		return nil, fmt.Errorf("building parquet schema: %w", err)
	}

	fieldIDs := make(map[string]int, len(sch.Fields))
	for _, f := range sch.Fields {
		fieldIDs[f.Name] = f.ID
	}
	idsJSON, err := json.Marshal(fieldIDs)
	if err != nil {
		return nil, fmt.Errorf("encoding field ids: %w", err)
	}

	buf := storage.NewBuffer()
	writer := parquet.NewGenericWriter[map[string]any](buf,
		parquetSchema,
		parquet.KeyValueMetadata(fieldIDsMetadataKey, string(idsJSON)),
	)

	return &FileWriter{
		store:     store,
		schema:    sch,
		partition: partition,
		path:      fmt.Sprintf("%s/data/%s.parquet", meta.Location, uuid.New()),
		buf:       buf,
		writer:    writer,
	}, nil
}

// Write appends rows to the file.
func (w *FileWriter) Write(rows ...map[string]any) error {
	if w.closed {
		return fmt.Errorf("writer for %s already closed", w.path)
	}
	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("writing rows to %s: %w", w.path, err)
	}
	w.records += int64(n)
	return nil
}

// Close finishes the Parquet file, uploads it, and returns the DataFile to
// hand to AppendFiles. The file is not part of any snapshot until a commit
// references it.
func (w *FileWriter) Close(ctx context.Context) (DataFile, error) {
	if w.closed {
		return DataFile{}, fmt.Errorf("writer for %s already closed", w.path)
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		return DataFile{}, fmt.Errorf("closing parquet writer for %s: %w", w.path, err)
	}
	if err := w.store.Write(ctx, w.path, w.buf.Reader()); err != nil {
		return DataFile{}, fmt.Errorf("uploading %s: %w", w.path, err)
	}

	return DataFile{
		FilePath:      w.path,
		FileFormat:    "PARQUET",
		Partition:     w.partition,
		RecordCount:   w.records,
		FileSizeBytes: w.buf.Size(),
	}, nil
}

func parquetSchemaFor(sch *schema.Schema) (*parquet.Schema, error) {
	root := make(parquet.Group)

	for _, field := range sch.Fields {
		var node parquet.Node

		switch field.Type {
		case "int":
			node = parquet.Leaf(parquet.Int32Type)
		case "long":
			node = parquet.Leaf(parquet.Int64Type)
		case "string":
			node = parquet.String()
		case "double":
			node = parquet.Leaf(parquet.DoubleType)
		case "float":
			node = parquet.Leaf(parquet.FloatType)
		case "boolean":
			node = parquet.Leaf(parquet.BooleanType)
		case "date":
			node = parquet.Date()
		case "timestamp":
			node = parquet.Timestamp(parquet.Millisecond)
		case "binary":
			node = parquet.Leaf(parquet.ByteArrayType)
		default:
			return nil, fmt.Errorf("unsupported type: %s", field.Type)
		}

		if !field.Required {
			node = parquet.Optional(node)
		}
		node = parquet.FieldID(node, field.ID)
		root[field.Name] = node
	}

	return parquet.NewSchema("table", root), nil
}
