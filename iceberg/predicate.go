package iceberg

import (
	"fmt"
	"strings"
)

// Predicate selects whole data files. Deletes and overwrites in this engine
// rewrite manifests at file granularity; a predicate that cannot decide
// membership for a file reports UnsupportedPredicateError and the commit is
// rejected before any state changes.
type Predicate interface {
	// MatchesFile reports whether every row in the file satisfies the
	// predicate, so the file can be removed wholesale.
	MatchesFile(df DataFile) (bool, error)

	String() string
}

// MatchAll selects every data file. Used for truncating overwrites.
type MatchAll struct{}

func (MatchAll) MatchesFile(DataFile) (bool, error) { return true, nil }
func (MatchAll) String() string                     { return "true" }

// PartitionEquals selects files whose partition value for a field equals the
// given value. Files written under a spec lacking the field cannot be decided
// at file granularity and make the predicate unsupported.
type PartitionEquals struct {
	Name  string
	Value string
}

func (p PartitionEquals) MatchesFile(df DataFile) (bool, error) {
	v, ok := df.Partition[p.Name]
	if !ok {
		return false, &UnsupportedPredicateError{
			Predicate: p.String(),
			Reason:    fmt.Sprintf("file %s has no partition value for %q", df.FilePath, p.Name),
		}
	}
	return v == p.Value, nil
}

func (p PartitionEquals) String() string {
	return fmt.Sprintf("partition.%s = %q", p.Name, p.Value)
}

// FilePaths selects files by exact path.
type FilePaths []string

func (p FilePaths) MatchesFile(df DataFile) (bool, error) {
	for _, path := range p {
		if path == df.FilePath {
			return true, nil
		}
	}
	return false, nil
}

func (p FilePaths) String() string {
	return fmt.Sprintf("file-path in (%s)", strings.Join(p, ", "))
}

// RowFilter stands for a row-level expression. The engine has no row-level
// delete mechanism, so it is never evaluable at file granularity; callers
// must rewrite the request as a partition or path predicate.
type RowFilter struct {
	Expr string
}

func (r RowFilter) MatchesFile(DataFile) (bool, error) {
	return false, &UnsupportedPredicateError{
		Predicate: r.String(),
		Reason:    "row-level expressions require rewriting matching files",
	}
}

func (r RowFilter) String() string {
	return r.Expr
}
