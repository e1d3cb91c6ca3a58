// Package store defines the durable store a consumer drains regions into.
package store

import (
	"errors"

	"github.com/rxanders35/fluxstate/pkg/shm"
)

var (
	ErrNotFound = errors.New("tensor not found")
	ErrClosed   = errors.New("batch already finished")
)

// Store persists checkpoints. A checkpoint is written through a Batch and
// becomes durable, as a whole, only when the batch commits.
type Store interface {
	Begin(checkpointID string) (Batch, error)
	Read(checkpointID, name string) (shm.Tensor, error)
	Close() error
}

// Batch collects one checkpoint's tensors. Put copies the data, so callers may
// pass views into shared memory. Exactly one of Commit or Abort ends a batch.
type Batch interface {
	Put(t shm.Tensor) error
	Commit() error
	Abort() error
}
