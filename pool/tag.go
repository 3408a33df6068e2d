// Package pool implements the arena, reference counting, intrusive list /
// sub-queue substrate, and job runner that every other package in this
// module is built on. A Pool is a single contiguous slice of fixed-shape
// slots carved from a capacity fixed at construction time; slots are
// tagged by content type and intrusively linked so they can live on
// exactly one list (or stand alone) without any further allocation.
package pool

// Tag identifies what kind of content a slot currently holds.
type Tag uint8

const (
	TagUndefined Tag = iota
	TagAdmin
	TagPrimary
	TagFlow
	TagRef
	TagJob
	TagListHead
	TagEntry
	TagGeneric
	TagSecondaryGeneric
)

func (t Tag) String() string {
	switch t {
	case TagUndefined:
		return "undefined"
	case TagAdmin:
		return "admin"
	case TagPrimary:
		return "primary"
	case TagFlow:
		return "flow"
	case TagRef:
		return "ref"
	case TagJob:
		return "job"
	case TagListHead:
		return "list-head"
	case TagEntry:
		return "entry"
	case TagGeneric:
		return "generic"
	case TagSecondaryGeneric:
		return "secondary-generic"
	default:
		return "unknown"
	}
}

// Well-known content-type signatures. A signature names the user-defined
// block variant independent of its Tag (the Tag says "this is a ref
// block"; the Signature of the *target* says what it refers to).
const (
	SignatureNone     uint32 = 0
	SignatureAdmin    uint32 = 1
	SignaturePrimary  uint32 = 2
	SignatureFlow     uint32 = 3
	SignatureJob      uint32 = 4
	SignatureEntry    uint32 = 5
	SignatureBlockRef uint32 = 6
	SignatureListHead uint32 = 7
)
