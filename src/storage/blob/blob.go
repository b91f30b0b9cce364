// Package blob defines the durable read/write surface used for the vector
// store file and for staged uploads.
package blob

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Get when no object is stored under the key.
var ErrNotExist = errors.New("blob does not exist")

// Store is a flat key/value surface for whole-object reads and writes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
