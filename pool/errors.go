package pool

import "errors"

var (
	// ErrOutOfMemory is returned when the free sub-queue is exhausted, or
	// when the caller's allocation class is below its guard threshold.
	ErrOutOfMemory = errors.New("pool: out of memory")
	// ErrUnknownType is returned when Alloc is asked for a content
	// signature that was never registered.
	ErrUnknownType = errors.New("pool: unknown content signature")
	// ErrNullPointer is returned when a required BlockID argument is the
	// zero value (InvalidBlockID).
	ErrNullPointer = errors.New("pool: null block reference")
	// ErrFatal marks an invariant violation — a block with an impossible
	// tag, a state handler with no callback, etc. Production callers may
	// log it and force the offending block to TagUndefined rather than
	// panic; tests should treat it as a hard failure.
	ErrFatal = errors.New("pool: fatal invariant violation")
)
