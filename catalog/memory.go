package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryCatalog is a mutex-guarded single-process Catalog. The lock makes
// every SwapPointer a true compare-and-swap for all callers in this process.
type MemoryCatalog struct {
	mu      sync.Mutex
	entries map[Ident]string
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{entries: make(map[Ident]string)}
}

func (c *MemoryCatalog) CreateEntry(ctx context.Context, ident Ident, location string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[ident]; ok {
		return ErrTableExists
	}
	c.entries[ident] = location
	return nil
}

func (c *MemoryCatalog) CurrentPointer(ctx context.Context, ident Ident) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, ok := c.entries[ident]
	if !ok {
		return "", ErrTableNotFound
	}
	return loc, nil
}

func (c *MemoryCatalog) SwapPointer(ctx context.Context, ident Ident, expectedOld, new string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.entries[ident]
	if !ok {
		return false, ErrTableNotFound
	}
	if current != expectedOld {
		return false, nil
	}
	c.entries[ident] = new
	return true, nil
}

func (c *MemoryCatalog) DropEntry(ctx context.Context, ident Ident) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[ident]; !ok {
		return ErrTableNotFound
	}
	delete(c.entries, ident)
	return nil
}

func (c *MemoryCatalog) ListTables(ctx context.Context, namespace string) ([]Ident, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Ident
	for ident := range c.entries {
		if ident.Namespace == namespace {
			out = append(out, ident)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
