package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by Read and Delete when no object exists at the
// given key.
var ErrNotExist = errors.New("storage: object does not exist")

// Storage is the narrow object-store surface the metadata engine consumes.
// All written objects are immutable; callers never overwrite an existing key.
type Storage interface {
	Write(ctx context.Context, key string, data io.Reader) error
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// ReadAll reads the full object at key.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
