package shm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Plan lays out tensors in the heap without touching any region. It fails
// before anything is written if the set cannot be published into a region of
// the given capacity.
func Plan(capacity int, tensors []Tensor) ([]Entry, uint64, error) {
	if len(tensors) > MaxTensors {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrTooManyTensors, len(tensors), MaxTensors)
	}

	entries := make([]Entry, 0, len(tensors))
	seen := make(map[string]struct{}, len(tensors))
	current := uint64(HeapStart)

	for _, t := range tensors {
		if err := checkName(t.Name); err != nil {
			return nil, 0, err
		}
		if _, dup := seen[t.Name]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate name %q", ErrInvalidName, t.Name)
		}
		seen[t.Name] = struct{}{}

		size := uint64(len(t.Data))
		end := current + size
		if end < current || end > uint64(capacity) {
			return nil, 0, fmt.Errorf("%w: tensor %q needs [%d, %d), region holds %d", ErrCapacity, t.Name, current, end, capacity)
		}

		entries = append(entries, Entry{Name: t.Name, Offset: current, Size: size, DType: t.DType})
		current = end
	}

	return entries, current - HeapStart, nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: %q is %d bytes, slot holds %d", ErrNameOverflow, name, len(name), MaxNameLen)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return nil
}

// Encode writes the entry table, the heap and the header counts. It never
// touches the readiness flag; publishing is the Publisher's job.
func Encode(r *Region, tensors []Tensor) (Header, error) {
	if !r.Writable() {
		return Header{}, fmt.Errorf("%w: region %q is read-only", ErrResource, r.Path())
	}

	entries, total, err := Plan(r.Len(), tensors)
	if err != nil {
		return Header{}, err
	}

	for i, e := range entries {
		heap, err := r.Slice(e.Offset, e.Size)
		if err != nil {
			return Header{}, err
		}
		copy(heap, tensors[i].Data)

		slot, err := r.Slice(entryBase(i), EntrySize)
		if err != nil {
			return Header{}, err
		}
		putEntry(slot, e)
	}

	fixed, err := r.Slice(0, entriesOffset)
	if err != nil {
		return Header{}, err
	}
	binary.LittleEndian.PutUint32(fixed[numTensorsOffset:], uint32(len(entries)))
	binary.LittleEndian.PutUint64(fixed[totalDataSizeOffset:], total)

	return Header{NumTensors: uint32(len(entries)), TotalDataSize: total, Entries: entries}, nil
}

// Decode reads the header and returns every tensor as a view into the
// region. The views alias shared memory; copy them to keep them past the
// handoff cycle.
func Decode(r *Region) (Header, []Tensor, error) {
	flag, err := r.LoadUint32(readyFlagOffset)
	if err != nil {
		return Header{}, nil, err
	}

	fixed, err := r.Slice(0, entriesOffset)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}

	h := Header{
		Ready:         flag == flagPublished,
		NumTensors:    binary.LittleEndian.Uint32(fixed[numTensorsOffset:]),
		TotalDataSize: binary.LittleEndian.Uint64(fixed[totalDataSizeOffset:]),
	}
	if h.NumTensors > MaxTensors {
		return h, nil, fmt.Errorf("%w: num_tensors %d > %d", ErrCorruptHeader, h.NumTensors, MaxTensors)
	}

	capacity := uint64(r.Len())
	prevEnd := uint64(HeapStart)
	var sum uint64

	h.Entries = make([]Entry, 0, h.NumTensors)
	tensors := make([]Tensor, 0, h.NumTensors)

	for i := 0; i < int(h.NumTensors); i++ {
		slot, err := r.Slice(entryBase(i), EntrySize)
		if err != nil {
			return h, nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptHeader, i, err)
		}
		e := readEntry(slot)

		if e.Offset < prevEnd {
			return h, nil, fmt.Errorf("%w: entry %d (%q) starts at %d, before %d", ErrCorruptHeader, i, e.Name, e.Offset, prevEnd)
		}
		if e.End() < e.Offset || e.End() > capacity {
			return h, nil, fmt.Errorf("%w: entry %d (%q) spans [%d, %d), region holds %d", ErrCorruptHeader, i, e.Name, e.Offset, e.End(), capacity)
		}

		data, err := r.Slice(e.Offset, e.Size)
		if err != nil {
			return h, nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptHeader, i, err)
		}

		prevEnd = e.End()
		sum += e.Size
		h.Entries = append(h.Entries, e)
		tensors = append(tensors, Tensor{Name: e.Name, DType: e.DType, Data: data})
	}

	if sum != h.TotalDataSize {
		return h, nil, fmt.Errorf("%w: total_data_size %d, entries sum to %d", ErrCorruptHeader, h.TotalDataSize, sum)
	}

	return h, tensors, nil
}
