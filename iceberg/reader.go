package iceberg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"permafrost/schema"
	"permafrost/storage"
)

// ReadRows reads every row of a data file and projects it onto readSchema.
// Columns are matched by field id, not name, so renamed columns resolve to
// their current name and columns added after the file was written come back
// as nil. Columns the file has but the read schema dropped are omitted.
func ReadRows(ctx context.Context, store storage.Storage, readSchema *schema.Schema, df DataFile) ([]map[string]any, error) {
	data, err := storage.ReadAll(ctx, store, df.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading data file %s: %w", df.FilePath, err)
	}

	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening data file %s: %w", df.FilePath, err)
	}

	// Column name in the file -> table field id, recorded at write time.
	fileFieldIDs := make(map[string]int)
	if raw, ok := pf.Lookup(fieldIDsMetadataKey); ok {
		if err := json.Unmarshal([]byte(raw), &fileFieldIDs); err != nil {
			return nil, fmt.Errorf("data file %s: bad field-id metadata: %w", df.FilePath, err)
		}
	}

	rows, err := parquet.Read[map[string]any](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading rows from %s: %w", df.FilePath, err)
	}

	// Table field id -> column name in this file. Files without recorded ids
	// fall back to name matching.
	nameByID := make(map[int]string, len(fileFieldIDs))
	for name, id := range fileFieldIDs {
		nameByID[id] = name
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		projected := make(map[string]any, len(readSchema.Fields))
		for _, field := range readSchema.Fields {
			fileColumn, ok := nameByID[field.ID]
			if !ok && len(fileFieldIDs) == 0 {
				fileColumn, ok = field.Name, true
			}
			if !ok {
				projected[field.Name] = nil
				continue
			}
			value, present := row[fileColumn]
			if !present {
				projected[field.Name] = nil
				continue
			}
			projected[field.Name] = normalizeValue(field.Type, value)
		}
		out[i] = projected
	}
	return out, nil
}

// normalizeValue undoes physical-type quirks of the Parquet round trip so
// callers see Go values matching the logical column type.
func normalizeValue(fieldType string, v any) any {
	if v == nil {
		return nil
	}
	switch fieldType {
	case "string":
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	case "int":
		if n, ok := v.(int32); ok {
			return int(n)
		}
	case "long":
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return v
}
