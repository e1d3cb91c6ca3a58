package shm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

/////////////////////////////////////

// REGION LAYOUT

/////////////////////////////////////

// HEADER: READY_FLAG|NUM_TENSORS|TOTAL_DATA_SIZE|ENTRIES[MaxTensors]
// ENTRY:  NAME[64]|OFFSET|SIZE|DTYPE|PAD[7]
// All integers are little-endian.
const (
	// Capacity of the entry table
	MaxTensors = 512

	// Size of an entry's name slot
	MaxNameLen = 64

	// Header field offsets
	readyFlagOffset     = 0
	numTensorsOffset    = 4
	totalDataSizeOffset = 8
	entriesOffset       = 16

	// Entry field offsets, relative to the entry
	entryNameOffset   = 0
	entryOffsetOffset = 64
	entrySizeOffset   = 72
	entryDTypeOffset  = 80

	// The total size of one entry, padding included
	EntrySize = 88

	// Header plus the full entry table. The heap starts here.
	HeaderSize = entriesOffset + MaxTensors*EntrySize

	HeapStart = HeaderSize
)

const (
	flagEmpty     uint32 = 0
	flagPublished uint32 = 1
)

// DType identifies a tensor's element type. The data plane only stores it.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
	F64
	I32
	I64
	U8
)

func (d DType) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	case F64:
		return "F64"
	case I32:
		return "I32"
	case I64:
		return "I64"
	case U8:
		return "U8"
	}
	return fmt.Sprintf("DType(%d)", uint8(d))
}

// Tensor is one named payload. Data is raw contiguous bytes.
type Tensor struct {
	Name  string
	DType DType
	Data  []byte
}

// Entry describes where a tensor lives in the heap.
type Entry struct {
	Name   string
	Offset uint64
	Size   uint64
	DType  DType
}

// End is the offset one past the entry's last byte.
func (e Entry) End() uint64 { return e.Offset + e.Size }

// Header is the decoded fixed block at the front of a region.
type Header struct {
	Ready         bool
	NumTensors    uint32
	TotalDataSize uint64
	Entries       []Entry
}

func entryBase(i int) uint64 {
	return entriesOffset + uint64(i)*EntrySize
}

func putEntry(buf []byte, e Entry) {
	clear(buf[:EntrySize])
	copy(buf[entryNameOffset:entryNameOffset+MaxNameLen], e.Name)
	binary.LittleEndian.PutUint64(buf[entryOffsetOffset:], e.Offset)
	binary.LittleEndian.PutUint64(buf[entrySizeOffset:], e.Size)
	buf[entryDTypeOffset] = byte(e.DType)
}

func readEntry(buf []byte) Entry {
	name := buf[entryNameOffset : entryNameOffset+MaxNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Entry{
		Name:   string(name),
		Offset: binary.LittleEndian.Uint64(buf[entryOffsetOffset:]),
		Size:   binary.LittleEndian.Uint64(buf[entrySizeOffset:]),
		DType:  DType(buf[entryDTypeOffset]),
	}
}
