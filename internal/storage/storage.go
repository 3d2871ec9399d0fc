// Package storage keeps uploaded registration documents in a durable store keyed by path.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrInvalidKey = errors.New("storage: invalid key")
	ErrNotExist   = errors.New("storage: object does not exist")
)

// Store persists objects. Put returns the reference to keep in the database;
// Open and Delete accept that reference. Delete succeeds when the object is already gone.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}
