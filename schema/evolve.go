package schema

import "fmt"

// Evolution describes one schema change: columns to add, columns to drop (by
// id), and renames (id to new name). Added fields are assigned fresh ids by
// Evolve; any id set on them is ignored.
type Evolution struct {
	AddedFields     []Field
	DroppedFieldIDs []int
	Renames         map[int]string
}

// IsEmpty reports whether the evolution changes nothing.
func (e Evolution) IsEmpty() bool {
	return len(e.AddedFields) == 0 && len(e.DroppedFieldIDs) == 0 && len(e.Renames) == 0
}

// Evolve applies an evolution to the current schema and returns the new field
// list plus the updated high-water column id. Dropped ids are retired, never
// handed out again: additions always draw ids above lastColumnID, so a column
// re-added under a dropped name still gets a fresh id. Existing data files
// are untouched; readers reconcile them against the new schema by field id.
func Evolve(current *Schema, lastColumnID int, ev Evolution) ([]Field, int, error) {
	dropped := make(map[int]bool, len(ev.DroppedFieldIDs))
	for _, id := range ev.DroppedFieldIDs {
		if _, ok := current.FieldByID(id); !ok {
			return nil, 0, fmt.Errorf("drop field: no field with id %d", id)
		}
		dropped[id] = true
	}
	for id := range ev.Renames {
		if _, ok := current.FieldByID(id); !ok {
			return nil, 0, fmt.Errorf("rename field: no field with id %d", id)
		}
		if dropped[id] {
			return nil, 0, fmt.Errorf("rename field: field id %d is being dropped", id)
		}
	}

	fields := make([]Field, 0, len(current.Fields)+len(ev.AddedFields))
	for _, f := range current.Fields {
		if dropped[f.ID] {
			continue
		}
		if name, ok := ev.Renames[f.ID]; ok {
			f.Name = name
		}
		fields = append(fields, f)
	}

	nextID := lastColumnID
	if hi := current.HighestFieldID(); hi > nextID {
		nextID = hi
	}
	for _, add := range ev.AddedFields {
		if !ValidType(add.Type) {
			return nil, 0, fmt.Errorf("add field %q: unsupported type %q", add.Name, add.Type)
		}
		if add.Required {
			return nil, 0, fmt.Errorf("add field %q: new fields must be optional for existing data", add.Name)
		}
		nextID++
		add.ID = nextID
		fields = append(fields, add)
	}

	result := Schema{Fields: fields}
	if err := result.Validate(); err != nil {
		return nil, 0, fmt.Errorf("evolved schema invalid: %w", err)
	}
	return fields, nextID, nil
}
