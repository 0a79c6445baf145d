package schema

import "fmt"

// Field is a single named column. The ID is assigned once, when the field
// first enters a table schema, and is stable across renames and later schema
// versions. IDs are never reused after a field is dropped.
type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Schema is an ordered list of fields identified by a schema id.
type Schema struct {
	SchemaID int     `json:"schema-id"`
	Fields   []Field `json:"fields"`
}

var validTypes = map[string]bool{
	"boolean":   true,
	"int":       true,
	"long":      true,
	"float":     true,
	"double":    true,
	"string":    true,
	"date":      true,
	"timestamp": true,
	"binary":    true,
}

// ValidType reports whether t is a supported primitive type name.
func ValidType(t string) bool {
	return validTypes[t]
}

// FieldByID returns the field with the given id, if present.
func (s *Schema) FieldByID(id int) (Field, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByName returns the field with the given name, if present.
func (s *Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HighestFieldID returns the largest field id in the schema, or 0 for an
// empty schema.
func (s *Schema) HighestFieldID() int {
	max := 0
	for _, f := range s.Fields {
		if f.ID > max {
			max = f.ID
		}
	}
	return max
}

// Validate checks structural invariants: unique ids, unique names, known
// types.
func (s *Schema) Validate() error {
	ids := make(map[int]bool, len(s.Fields))
	names := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.ID <= 0 {
			return fmt.Errorf("field %q: invalid id %d", f.Name, f.ID)
		}
		if ids[f.ID] {
			return fmt.Errorf("duplicate field id %d", f.ID)
		}
		if f.Name == "" {
			return fmt.Errorf("field %d: empty name", f.ID)
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		if !ValidType(f.Type) {
			return fmt.Errorf("field %q: unsupported type %q", f.Name, f.Type)
		}
		ids[f.ID] = true
		names[f.Name] = true
	}
	return nil
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() Schema {
	out := Schema{SchemaID: s.SchemaID, Fields: make([]Field, len(s.Fields))}
	copy(out.Fields, s.Fields)
	return out
}

// Equal reports whether two schemas have identical ids and field lists.
func (s *Schema) Equal(other *Schema) bool {
	if s.SchemaID != other.SchemaID || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}
