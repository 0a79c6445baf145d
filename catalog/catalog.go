// Package catalog maps table identifiers to the location of their current
// metadata document and provides the atomic pointer swap that serializes all
// concurrent commits to a table.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTableExists is returned when creating an identifier that is
	// already registered.
	ErrTableExists = errors.New("catalog: table already exists")

	// ErrTableNotFound is returned for lookups of unknown identifiers.
	ErrTableNotFound = errors.New("catalog: table not found")
)

// Ident names a table as namespace plus table name.
type Ident struct {
	Namespace string
	Name      string
}

func (i Ident) String() string {
	return i.Namespace + "." + i.Name
}

// ParseIdent parses "namespace.table" into an Ident.
func ParseIdent(s string) (Ident, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Ident{}, fmt.Errorf("invalid table identifier %q: want namespace.table", s)
	}
	return Ident{Namespace: parts[0], Name: parts[1]}, nil
}

// Catalog is the sole concurrency-control primitive the metadata engine
// depends on. SwapPointer must never let two calls with the same expectedOld
// both succeed, across all concurrent callers for one identifier.
type Catalog interface {
	// CreateEntry registers a new table at the given metadata location.
	// Returns ErrTableExists if the identifier is taken.
	CreateEntry(ctx context.Context, ident Ident, location string) error

	// CurrentPointer returns the location of the table's current metadata
	// document. Returns ErrTableNotFound for unknown identifiers.
	CurrentPointer(ctx context.Context, ident Ident) (string, error)

	// SwapPointer atomically replaces the pointer, but only if it still
	// equals expectedOld. Returns false when another caller won the race.
	SwapPointer(ctx context.Context, ident Ident, expectedOld, new string) (bool, error)

	// DropEntry removes the table's catalog entry.
	DropEntry(ctx context.Context, ident Ident) error

	// ListTables returns the identifiers registered under a namespace.
	ListTables(ctx context.Context, namespace string) ([]Ident, error)
}
