package schema

import (
	"fmt"
	"regexp"
	"strconv"
)

// PartitionField maps a source column to one physical grouping key via a
// transform.
type PartitionField struct {
	SourceID  int    `json:"source-id"` // field id in the table schema
	FieldID   int    `json:"field-id"`  // id of the resulting partition field
	Name      string `json:"name"`
	Transform string `json:"transform"` // identity, bucket[N], truncate[W], day, hour
}

// PartitionSpec is an ordered list of partition fields. Spec ids increment on
// any structural change; historical specs stay valid for the data files
// written under them.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// PartitionFieldIDStart is the first id handed out to partition fields, kept
// clear of table column ids.
const PartitionFieldIDStart = 1000

var paramTransform = regexp.MustCompile(`^(bucket|truncate)\[(\d+)\]$`)

// ValidTransform reports whether t names a supported partition transform.
func ValidTransform(t string) bool {
	switch t {
	case "identity", "day", "hour":
		return true
	}
	m := paramTransform.FindStringSubmatch(t)
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[2])
	return err == nil && n > 0
}

// Validate checks the spec against the schema it partitions: every source id
// must resolve to a schema field, partition field ids must be unique and
// outside the column id range, transforms must be well formed.
func (p *PartitionSpec) Validate(s *Schema) error {
	seen := make(map[int]bool, len(p.Fields))
	names := make(map[string]bool, len(p.Fields))
	for _, pf := range p.Fields {
		if _, ok := s.FieldByID(pf.SourceID); !ok {
			return fmt.Errorf("partition field %q: unknown source field id %d", pf.Name, pf.SourceID)
		}
		if pf.FieldID < PartitionFieldIDStart {
			return fmt.Errorf("partition field %q: id %d below partition id range", pf.Name, pf.FieldID)
		}
		if seen[pf.FieldID] {
			return fmt.Errorf("duplicate partition field id %d", pf.FieldID)
		}
		if names[pf.Name] {
			return fmt.Errorf("duplicate partition field name %q", pf.Name)
		}
		if !ValidTransform(pf.Transform) {
			return fmt.Errorf("partition field %q: unsupported transform %q", pf.Name, pf.Transform)
		}
		seen[pf.FieldID] = true
		names[pf.Name] = true
	}
	return nil
}

// IsUnpartitioned reports whether the spec has no partition fields.
func (p *PartitionSpec) IsUnpartitioned() bool {
	return len(p.Fields) == 0
}

// Equal reports whether two specs are structurally identical, ignoring the
// spec id.
func (p *PartitionSpec) Equal(other *PartitionSpec) bool {
	if len(p.Fields) != len(other.Fields) {
		return false
	}
	for i := range p.Fields {
		if p.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}
