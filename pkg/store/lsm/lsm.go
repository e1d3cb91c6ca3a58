// Package lsm is a pebble-backed durable store. Each checkpoint is written
// as one pebble batch committed with fsync.
package lsm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rxanders35/fluxstate/pkg/shm"
	"github.com/rxanders35/fluxstate/pkg/store"
)

// KEY: ckpt/UVARINT(len(checkpoint id))|<checkpoint id>|<tensor name>
// VALUE: DTYPE(1)|DATA
const keyPrefix = "ckpt/"

type LSM struct {
	db        *pebble.DB
	opts      *pebble.Options
	cacheSize int64
}

var _ store.Store = (*LSM)(nil)

func NewLSM(path string, opts ...Option) (*LSM, error) {
	l := &LSM{
		opts: &pebble.Options{
			MemTableSize: 64 << 20,
			BytesPerSync: 1 << 20,
		},
		cacheSize: 128 << 20,
	}

	for _, opt := range opts {
		opt(l)
	}

	cache := pebble.NewCache(l.cacheSize)
	defer cache.Unref()
	l.opts.Cache = cache

	db, err := pebble.Open(path, l.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}

	l.db = db
	return l, nil
}

// checkpointPrefix length-prefixes the id so ids and names may hold any byte
// without one checkpoint's keys falling inside another's.
func checkpointPrefix(id string) []byte {
	buf := make([]byte, 0, len(keyPrefix)+binary.MaxVarintLen64+len(id))
	buf = append(buf, keyPrefix...)
	buf = binary.AppendUvarint(buf, uint64(len(id)))
	return append(buf, id...)
}

func checkpointKey(id, name string) []byte {
	return append(checkpointPrefix(id), name...)
}

// checkpointSpan covers exactly the keys of one checkpoint.
func checkpointSpan(id string) (start, end []byte) {
	start = checkpointPrefix(id)
	return start, keyUpperBound(start)
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Begin starts a batch that replaces any earlier checkpoint with the same id.
func (l *LSM) Begin(checkpointID string) (store.Batch, error) {
	if checkpointID == "" {
		return nil, errors.New("empty checkpoint id")
	}

	b := l.db.NewBatch()
	start, end := checkpointSpan(checkpointID)
	if err := b.DeleteRange(start, end, nil); err != nil {
		b.Close()
		return nil, err
	}
	return &batch{id: checkpointID, b: b}, nil
}

func (l *LSM) Read(checkpointID, name string) (shm.Tensor, error) {
	v, cl, err := l.db.Get(checkpointKey(checkpointID, name))
	if errors.Is(err, pebble.ErrNotFound) {
		return shm.Tensor{}, store.ErrNotFound
	}
	if err != nil {
		return shm.Tensor{}, err
	}
	defer cl.Close()

	if len(v) < 1 {
		return shm.Tensor{}, fmt.Errorf("CORRUPTED: empty value for %s/%s", checkpointID, name)
	}

	data := make([]byte, len(v)-1)
	copy(data, v[1:])

	return shm.Tensor{Name: name, DType: shm.DType(v[0]), Data: data}, nil
}

func (l *LSM) Close() error {
	return l.db.Close()
}

type batch struct {
	id string
	b  *pebble.Batch
}

func (b *batch) Put(t shm.Tensor) error {
	if b.b == nil {
		return store.ErrClosed
	}

	// Set copies key and value into the batch.
	value := make([]byte, 1+len(t.Data))
	value[0] = byte(t.DType)
	copy(value[1:], t.Data)

	return b.b.Set(checkpointKey(b.id, t.Name), value, nil)
}

func (b *batch) Commit() error {
	if b.b == nil {
		return store.ErrClosed
	}
	defer b.finish()

	return b.b.Commit(pebble.Sync)
}

func (b *batch) Abort() error {
	if b.b == nil {
		return store.ErrClosed
	}
	return b.finish()
}

func (b *batch) finish() error {
	err := b.b.Close()
	b.b = nil
	return err
}
