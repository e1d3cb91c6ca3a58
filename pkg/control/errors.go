package control

import "errors"

var (
	// ErrMismatch means the region held a different tensor count than the
	// producer announced.
	ErrMismatch = errors.New("tensor count mismatch")

	// ErrRejected is returned to a producer whose request came back with
	// success=false.
	ErrRejected = errors.New("consumer rejected checkpoint")

	// ErrTransport wraps failures of the RPC itself.
	ErrTransport = errors.New("control plane transport failure")
)
