package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresCatalog stores pointers in a Postgres table and implements
// SwapPointer as a conditional UPDATE, which Postgres serializes per row.
// This is the multi-process implementation.
type PostgresCatalog struct {
	db *sql.DB
}

const createPointerTable = `
CREATE TABLE IF NOT EXISTS table_pointer (
    namespace         TEXT NOT NULL,
    table_name        TEXT NOT NULL,
    metadata_location TEXT NOT NULL,
    PRIMARY KEY (namespace, table_name)
)`

// OpenPostgresCatalog connects via the pgx driver and ensures the pointer
// table exists.
func OpenPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging catalog db: %w", err)
	}
	if _, err := db.ExecContext(ctx, createPointerTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating pointer table: %w", err)
	}
	return &PostgresCatalog{db: db}, nil
}

// NewPostgresCatalog wraps an existing connection pool. The pointer table
// must already exist.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) CreateEntry(ctx context.Context, ident Ident, location string) error {
	res, err := c.db.ExecContext(ctx, `
INSERT INTO table_pointer (namespace, table_name, metadata_location)
VALUES ($1, $2, $3)
ON CONFLICT (namespace, table_name) DO NOTHING`,
		ident.Namespace, ident.Name, location)
	if err != nil {
		return fmt.Errorf("creating catalog entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("creating catalog entry: %w", err)
	}
	if n == 0 {
		return ErrTableExists
	}
	return nil
}

func (c *PostgresCatalog) CurrentPointer(ctx context.Context, ident Ident) (string, error) {
	var location string
	err := c.db.QueryRowContext(ctx, `
SELECT metadata_location FROM table_pointer
WHERE namespace = $1 AND table_name = $2`,
		ident.Namespace, ident.Name).Scan(&location)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTableNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading catalog pointer: %w", err)
	}
	return location, nil
}

func (c *PostgresCatalog) SwapPointer(ctx context.Context, ident Ident, expectedOld, new string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
UPDATE table_pointer SET metadata_location = $4
WHERE namespace = $1 AND table_name = $2 AND metadata_location = $3`,
		ident.Namespace, ident.Name, expectedOld, new)
	if err != nil {
		return false, fmt.Errorf("swapping catalog pointer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swapping catalog pointer: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing table.
	if _, err := c.CurrentPointer(ctx, ident); err != nil {
		return false, err
	}
	return false, nil
}

func (c *PostgresCatalog) DropEntry(ctx context.Context, ident Ident) error {
	res, err := c.db.ExecContext(ctx, `
DELETE FROM table_pointer
WHERE namespace = $1 AND table_name = $2`,
		ident.Namespace, ident.Name)
	if err != nil {
		return fmt.Errorf("dropping catalog entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dropping catalog entry: %w", err)
	}
	if n == 0 {
		return ErrTableNotFound
	}
	return nil
}

func (c *PostgresCatalog) ListTables(ctx context.Context, namespace string) ([]Ident, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT namespace, table_name FROM table_pointer
WHERE namespace = $1
ORDER BY table_name ASC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var idents []Ident
	for rows.Next() {
		var ident Ident
		if err := rows.Scan(&ident.Namespace, &ident.Name); err != nil {
			return nil, fmt.Errorf("scanning table row: %w", err)
		}
		idents = append(idents, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading table rows: %w", err)
	}
	return idents, nil
}

// Close releases the underlying connection pool.
func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}
