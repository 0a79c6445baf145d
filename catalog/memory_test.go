package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdent(t *testing.T) {
	ident, err := ParseIdent("analytics.events")
	require.NoError(t, err)
	assert.Equal(t, Ident{Namespace: "analytics", Name: "events"}, ident)
	assert.Equal(t, "analytics.events", ident.String())

	_, err = ParseIdent("events")
	assert.Error(t, err)
	_, err = ParseIdent(".events")
	assert.Error(t, err)
}

func TestMemoryCatalogLifecycle(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	ident := Ident{Namespace: "ns", Name: "t"}

	_, err := cat.CurrentPointer(ctx, ident)
	assert.ErrorIs(t, err, ErrTableNotFound)

	require.NoError(t, cat.CreateEntry(ctx, ident, "v1"))
	assert.ErrorIs(t, cat.CreateEntry(ctx, ident, "v1"), ErrTableExists)

	loc, err := cat.CurrentPointer(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, "v1", loc)

	require.NoError(t, cat.DropEntry(ctx, ident))
	assert.ErrorIs(t, cat.DropEntry(ctx, ident), ErrTableNotFound)
}

func TestMemoryCatalogSwap(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	ident := Ident{Namespace: "ns", Name: "t"}
	require.NoError(t, cat.CreateEntry(ctx, ident, "v1"))

	ok, err := cat.SwapPointer(ctx, ident, "v1", "v2")
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale expected value loses.
	ok, err = cat.SwapPointer(ctx, ident, "v1", "v3")
	require.NoError(t, err)
	assert.False(t, ok)

	loc, err := cat.CurrentPointer(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, "v2", loc)

	_, err = cat.SwapPointer(ctx, Ident{Namespace: "ns", Name: "missing"}, "a", "b")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestMemoryCatalogSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	ident := Ident{Namespace: "ns", Name: "t"}
	require.NoError(t, cat.CreateEntry(ctx, ident, "base"))

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan int, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := cat.SwapPointer(ctx, ident, "base", "next")
			if err == nil && ok {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one swap with the same expectedOld may succeed")
}

func TestMemoryCatalogListTables(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	require.NoError(t, cat.CreateEntry(ctx, Ident{Namespace: "a", Name: "z"}, "l1"))
	require.NoError(t, cat.CreateEntry(ctx, Ident{Namespace: "a", Name: "b"}, "l2"))
	require.NoError(t, cat.CreateEntry(ctx, Ident{Namespace: "other", Name: "c"}, "l3"))

	idents, err := cat.ListTables(ctx, "a")
	require.NoError(t, err)
	require.Len(t, idents, 2)
	assert.Equal(t, "b", idents[0].Name)
	assert.Equal(t, "z", idents[1].Name)
}
