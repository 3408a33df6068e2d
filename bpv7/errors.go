// Package bpv7 implements the RFC 9171 Bundle Protocol version 7 wire
// codec: primary-block and canonical-block encode/decode over a hand
// rolled CBOR layer, with CRC-16/X.25 and CRC-32/Castagnoli integrity per
// block. It has no dependency on the pool package — callers that want a
// decoded bundle living in a Pool copy these plain structs into blocks
// themselves (see cache.go).
package bpv7

import "errors"

var (
	// ErrBadVersion is returned when a primary block's version field is
	// not 7.
	ErrBadVersion = errors.New("bpv7: unsupported bundle version")
	// ErrInvalidCRC is returned when a decoded block's CRC field does not
	// match the CRC recomputed over its own encoded bytes.
	ErrInvalidCRC = errors.New("bpv7: CRC mismatch")
	// ErrMalformed is returned for any structurally invalid CBOR input:
	// wrong major type, truncated buffer, wrong array length, unknown
	// scheme. A canonical block of an unrecognized type is not an error;
	// its content bytes are kept as they are.
	ErrMalformed = errors.New("bpv7: malformed wire bundle")
	// ErrTooManySequences is returned when a DACS payload is asked to
	// carry more than 16 sequence numbers.
	ErrTooManySequences = errors.New("bpv7: DACS payload exceeds 16 sequence numbers")
)
