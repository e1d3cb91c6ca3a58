package needle

/////////////////////////////////////

// CONSTANTS FOR NEEDLE FORMAT ON DISK

/////////////////////////////////////

// NEEDLE: MAGICNUMBER|UUID|DTYPE|FLAGS|SIZE|DATA|CHECKSUM
// SIZE is the stored (possibly compressed) length; CHECKSUM covers stored DATA.

const (
	// Size of Needle's magic number
	NeedleMagicSize = 2

	// Size of Needle's UUID
	NeedleIDSize = 16

	// Size of Needle's dtype code and flags
	NeedleDTypeSize = 1
	NeedleFlagsSize = 1

	// Size of Needle's blob data length
	NeedleDataSize = 4

	// Size of Needle's checksum
	NeedleChecksum = 4

	// The total fixed overhead of the Needle
	NeedleFixedPortion = NeedleMagicSize + NeedleIDSize + NeedleDTypeSize + NeedleFlagsSize + NeedleDataSize + NeedleChecksum

	// Offset of DATA within a Needle
	NeedleDataOffset = NeedleFixedPortion - NeedleChecksum

	// The Needle magic number literal
	NeedleMagicVal uint16 = 0xF1C5
)

// Needle flag bits
const (
	FlagZstd byte = 1 << 0
)

/////////////////////////////////////

// CONSTANTS FOR TENSOR INDEX ON DISK

/////////////////////////////////////

// IDX: KEYLEN|KEY|NEEDLE_ID|OFFSET|SIZE
// KEY is <checkpoint id>/<tensor name>. OFFSET == TombstoneOffset drops KEY.
const (
	// Key length field
	IdxKeyLen = 2

	// Needle ID field
	IdxNeedleID = 16

	// Offset field
	IdxOffset = 8

	// Size field
	IdxSize = 4

	// The fixed size of an index record, key excluded
	IdxFixedSize = IdxKeyLen + IdxNeedleID + IdxOffset + IdxSize

	TombstoneOffset = ^uint64(0)
)

type IndexEntry struct {
	ID     [16]byte
	Offset uint64
	Size   uint32
}

/////////////////////////////////////

// CONSTANTS FOR NAMING STANDARDS ON DISK

// ///////////////////////////////////
const (
	// Volume classification
	VolumeFilePrefix = "volume_"

	// Data file suffix
	DataFileExtension = ".dat"

	// Index file suffix
	IdxFileExtension = ".idx"
)
