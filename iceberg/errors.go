package iceberg

import (
	"errors"
	"fmt"
)

// ErrConcurrentModification is returned when a commit loses the catalog
// pointer race. It is the expected outcome of optimistic concurrency under
// contention: the caller reloads the table and retries. The engine never
// retries internally.
var ErrConcurrentModification = errors.New("concurrent table modification")

// ErrUnknownSnapshot is returned when a rollback target is not part of the
// table's snapshot lineage.
var ErrUnknownSnapshot = errors.New("snapshot not in table lineage")

// ErrSnapshotNotFound is returned by reads addressing a snapshot id the
// table does not have.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// CorruptMetadataError reports a structurally invalid metadata or manifest
// document. Not retryable.
type CorruptMetadataError struct {
	Location string
	Reason   string
	Err      error
}

func (e *CorruptMetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt metadata at %s: %s: %v", e.Location, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt metadata at %s: %s", e.Location, e.Reason)
}

func (e *CorruptMetadataError) Unwrap() error {
	return e.Err
}

// UnsupportedPredicateError reports a delete predicate that cannot be
// evaluated at file granularity. The caller must rewrite the request.
type UnsupportedPredicateError struct {
	Predicate string
	Reason    string
}

func (e *UnsupportedPredicateError) Error() string {
	return fmt.Sprintf("predicate %s not evaluable at file granularity: %s", e.Predicate, e.Reason)
}

// Retryable reports whether err is an expected contention outcome that the
// caller should resolve by reloading and retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
