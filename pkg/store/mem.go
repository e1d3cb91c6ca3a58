package store

import (
	"bytes"
	"sync"

	"github.com/rxanders35/fluxstate/pkg/shm"
)

// Memory is a non-durable Store for tests and dry runs.
type Memory struct {
	mu          sync.RWMutex
	checkpoints map[string]map[string]shm.Tensor
}

func NewMemory() *Memory {
	return &Memory{checkpoints: make(map[string]map[string]shm.Tensor)}
}

func (m *Memory) Begin(checkpointID string) (Batch, error) {
	return &memBatch{m: m, id: checkpointID, tensors: make(map[string]shm.Tensor)}, nil
}

func (m *Memory) Read(checkpointID, name string) (shm.Tensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.checkpoints[checkpointID][name]
	if !ok {
		return shm.Tensor{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) Close() error { return nil }

type memBatch struct {
	m       *Memory
	id      string
	tensors map[string]shm.Tensor
	done    bool
}

func (b *memBatch) Put(t shm.Tensor) error {
	if b.done {
		return ErrClosed
	}
	t.Data = bytes.Clone(t.Data)
	b.tensors[t.Name] = t
	return nil
}

func (b *memBatch) Commit() error {
	if b.done {
		return ErrClosed
	}
	b.done = true

	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.m.checkpoints[b.id] = b.tensors
	return nil
}

func (b *memBatch) Abort() error {
	if b.done {
		return ErrClosed
	}
	b.done = true
	return nil
}
