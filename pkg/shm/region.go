package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

const (
	// DefaultCapacity is the region size both sides agree on unless configured otherwise.
	DefaultCapacity = 100 * 1024 * 1024

	// DefaultName is the backing file name used under the shared memory directory.
	DefaultName = "flux_state_1"
)

// Region is a fixed-capacity byte range backed by a memory-mapped file.
// All access goes through bounds-checked accessors; the readiness flag and
// other 32-bit header words are read and written atomically.
type Region struct {
	path     string
	file     *os.File
	mem      []byte
	writable bool
}

// DefaultPath returns /dev/shm/<DefaultName> when /dev/shm exists, falling
// back to the temporary directory otherwise.
func DefaultPath() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", DefaultName)
	}
	return filepath.Join(os.TempDir(), DefaultName)
}

// OpenOrCreate creates the backing file if needed, sizes it to capacity and
// maps it read-write. This is the producer's view.
func OpenOrCreate(path string, capacity int) (*Region, error) {
	if capacity < HeaderSize {
		return nil, fmt.Errorf("%w: capacity %d below header size %d", ErrResource, capacity, HeaderSize)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrResource, path, err)
	}

	if err := file.Truncate(int64(capacity)); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: resize %s to %d: %v", ErrResource, path, capacity, err)
	}

	mem, err := mapFile(file, capacity, true)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}

	return &Region{path: path, file: file, mem: mem, writable: true}, nil
}

// Open maps an existing backing file read-only. Capacity is taken from the
// file size. This is the consumer's view; it can never write the region.
func Open(path string) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrResource, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrResource, path, err)
	}

	size := info.Size()
	if size < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, below header size %d", ErrResource, path, size, HeaderSize)
	}

	mem, err := mapFile(file, int(size), false)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}

	return &Region{path: path, file: file, mem: mem}, nil
}

// Anonymous returns a writable region with no backing file.
func Anonymous(capacity int) (*Region, error) {
	if capacity < HeaderSize {
		return nil, fmt.Errorf("%w: capacity %d below header size %d", ErrResource, capacity, HeaderSize)
	}
	mem, err := mapAnonymous(capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}
	return &Region{mem: mem, writable: true}, nil
}

func (r *Region) Path() string { return r.path }

func (r *Region) Len() int { return len(r.mem) }

func (r *Region) Writable() bool { return r.writable }

// Slice returns the n bytes starting at off. The returned slice aliases the
// mapping and is only valid until Close.
func (r *Region) Slice(off, n uint64) ([]byte, error) {
	end := off + n
	if end < off || end > uint64(len(r.mem)) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfBounds, off, end, len(r.mem))
	}
	return r.mem[off:end:end], nil
}

// LoadUint32 atomically reads the word at off.
func (r *Region) LoadUint32(off uint64) (uint32, error) {
	p, err := r.word(off)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// StoreUint32 atomically writes the word at off. Every plain write issued
// before it is visible to any reader that observes the stored value.
func (r *Region) StoreUint32(off uint64, v uint32) error {
	if !r.writable {
		return fmt.Errorf("%w: region %q is read-only", ErrResource, r.path)
	}
	p, err := r.word(off)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, v)
	return nil
}

func (r *Region) word(off uint64) (*uint32, error) {
	if off%4 != 0 {
		return nil, fmt.Errorf("%w: unaligned word offset %d", ErrOutOfBounds, off)
	}
	b, err := r.Slice(off, 4)
	if err != nil {
		return nil, err
	}
	return (*uint32)(unsafe.Pointer(&b[0])), nil
}

// Sync flushes a file-backed mapping to its backing file.
func (r *Region) Sync() error {
	if r.file == nil || !r.writable {
		return nil
	}
	return syncMemory(r.mem)
}

// Close unmaps the region and closes the backing file. The file is left in
// place so the other side can still open it.
func (r *Region) Close() error {
	var err1, err2 error

	if r.mem != nil {
		err1 = unmapMemory(r.mem)
		r.mem = nil
	}

	if r.file != nil {
		err2 = r.file.Close()
		r.file = nil
	}

	if err1 != nil {
		return err1
	}
	return err2
}

// Remove unlinks the backing file.
func (r *Region) Remove() error {
	if r.path == "" {
		return nil
	}
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
