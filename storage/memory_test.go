package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	require.NoError(t, store.Write(ctx, "a/b/one.json", strings.NewReader("hello")))

	data, err := ReadAll(ctx, store, "a/b/one.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = store.Read(ctx, "a/b/missing.json")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestMemoryStorageListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.Write(ctx, "t/metadata/v1.json", strings.NewReader("{}")))
	require.NoError(t, store.Write(ctx, "t/metadata/v2.json", strings.NewReader("{}")))
	require.NoError(t, store.Write(ctx, "t/data/f1.parquet", strings.NewReader("x")))

	keys, err := store.List(ctx, "t/metadata/")
	require.NoError(t, err)
	assert.Equal(t, []string{"t/metadata/v1.json", "t/metadata/v2.json"}, keys)

	require.NoError(t, store.Delete(ctx, "t/metadata/v1.json"))
	assert.ErrorIs(t, store.Delete(ctx, "t/metadata/v1.json"), ErrNotExist)
	assert.Equal(t, 2, store.Len())
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "ns/table/data/f.parquet", strings.NewReader("bytes")))

	data, err := ReadAll(ctx, store, "ns/table/data/f.parquet")
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))

	keys, err := store.List(ctx, "ns/table/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns/table/data/f.parquet"}, keys)

	_, err = store.Read(ctx, "ns/table/missing")
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, store.Delete(ctx, "ns/table/data/f.parquet"))
	assert.ErrorIs(t, store.Delete(ctx, "ns/table/data/f.parquet"), ErrNotExist)
}

func TestBuffer(t *testing.T) {
	buf := NewBuffer()

	n, err := buf.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), buf.Size())

	_, err = buf.Write([]byte("def"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(buf.Bytes()))

	buf.Reset()
	assert.Equal(t, int64(0), buf.Size())
}
