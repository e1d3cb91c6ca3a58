package shm

import "errors"

// Error kinds surfaced by the data plane. Callers match them with errors.Is;
// the wrapped message carries the offending value.
var (
	ErrResource       = errors.New("region resource unavailable")
	ErrCapacity       = errors.New("payload exceeds region capacity")
	ErrTooManyTensors = errors.New("tensor count exceeds entry table")
	ErrCorruptHeader  = errors.New("corrupt region header")
	ErrNameOverflow   = errors.New("tensor name exceeds name slot")
	ErrInvalidName    = errors.New("invalid tensor name")
	ErrNotReady       = errors.New("region not published")
	ErrOutOfBounds    = errors.New("range outside region")
)
