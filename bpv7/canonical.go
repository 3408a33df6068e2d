package bpv7

import (
	"bytes"

	"github.com/samsamfire/godtn/internal/crc"
)

// BlockType identifies a canonical block's content. Payload, previous-node,
// bundle-age and hop-count use the RFC 9171 §4.3.2/§4.4 assigned type
// numbers; custody-tracking and the DACS-accept administrative record are
// not part of RFC 9171 itself (custody transfer predates it, carried over
// from bplib's extension blocks) and use private/experimental numbers in
// the 192-255 range RFC 9171 reserves for that purpose.
type BlockType uint8

const (
	BlockTypePayload      BlockType = 1
	BlockTypePreviousNode BlockType = 6
	BlockTypeBundleAge    BlockType = 7
	BlockTypeHopCount     BlockType = 10
	BlockTypeCustodyTrack BlockType = 192
	BlockTypeDACSAccept   BlockType = 193
)

// PayloadHint tells the canonical-block decoder how to interpret a
// type-1 payload block. Decode sets it from the primary block's
// admin-record flag only; no payload-confidentiality block type is
// recognized, so Decode never selects PayloadHintCiphertext.
type PayloadHint uint8

const (
	PayloadHintPlain PayloadHint = iota
	PayloadHintAdminRecord
	PayloadHintCiphertext
)

const maxDACSSequences = 16

// CanonicalBlock is one non-primary block of a bundle: header fields
// common to every block type, plus exactly one populated payload variant
// selected by Type.
type CanonicalBlock struct {
	Type        BlockType
	BlockNumber uint64
	ProcFlags   uint8
	CRCType     crc.Type
	CRC         uint64

	PreviousNode EID
	BundleAgeMs  uint64
	HopLimit     uint64
	HopCount     uint64
	CustodyEID   EID

	DACSFlowSource EID
	DACSSequences  []uint64

	PayloadHint PayloadHint
	PayloadData []byte

	// ContentOffset/ContentLength locate the inner byte-string content
	// within the block's own encoded bytes, for callers that stream
	// payload bytes rather than copy them (v7_block_encode_pay in the
	// original).
	ContentOffset int
	ContentLength int

	encodedLen int
}

func (c *CanonicalBlock) EncodedLen() int { return c.encodedLen }

func encodeBlockContent(c *CanonicalBlock) []byte {
	var inner bytes.Buffer
	switch c.Type {
	case BlockTypePreviousNode:
		encodeEID(&inner, c.PreviousNode)
	case BlockTypeBundleAge:
		writeUint(&inner, c.BundleAgeMs)
	case BlockTypeHopCount:
		writeArrayHeader(&inner, 2)
		writeUint(&inner, c.HopLimit)
		writeUint(&inner, c.HopCount)
	case BlockTypeCustodyTrack:
		encodeEID(&inner, c.CustodyEID)
	case BlockTypeDACSAccept:
		writeArrayHeader(&inner, 2)
		encodeEID(&inner, c.DACSFlowSource)
		writeArrayHeader(&inner, len(c.DACSSequences))
		for _, s := range c.DACSSequences {
			writeUint(&inner, s)
		}
	case BlockTypePayload:
		inner.Write(c.PayloadData)
	}
	return inner.Bytes()
}

// Encode writes the canonical block's definite-length array
// [type, number, proc-flags, crc-type, content-bytes (+crc)] to buf.
func (c *CanonicalBlock) Encode(buf *bytes.Buffer) error {
	if c.Type == BlockTypeDACSAccept && len(c.DACSSequences) > maxDACSSequences {
		return ErrTooManySequences
	}
	start := buf.Len()

	n := 5
	if c.CRCType != crc.TypeNone {
		n++
	}
	writeArrayHeader(buf, n)
	writeUint(buf, uint64(c.Type))
	writeUint(buf, c.BlockNumber)
	writeUint(buf, uint64(c.ProcFlags))
	writeUint(buf, uint64(c.CRCType))

	content := encodeBlockContent(c)
	writeByteStringHeader(buf, len(content))
	c.ContentOffset = buf.Len() - start
	c.ContentLength = len(content)
	buf.Write(content)

	crcFieldOffset := -1
	if c.CRCType != crc.TypeNone {
		crcFieldOffset = buf.Len()
		writeByteStringHeader(buf, c.CRCType.Size())
		for i := 0; i < c.CRCType.Size(); i++ {
			buf.WriteByte(0)
		}
	}

	c.encodedLen = buf.Len() - start
	if crcFieldOffset >= 0 {
		backpatchCRC(buf, start, crcFieldOffset, c.CRCType)
		c.CRC = readBackpatchedCRC(buf.Bytes()[crcFieldOffset:], c.CRCType)
	}
	return nil
}

// DecodeCanonicalBlock reads one canonical block starting at the
// reader's cursor. hint disambiguates a payload block's interpretation
// per §4.7; it is ignored for any other block type.
func DecodeCanonicalBlock(r *cborReader, hint PayloadHint) (*CanonicalBlock, error) {
	blockStart := r.pos

	n, err := r.readArrayHeader()
	if err != nil {
		return nil, err
	}
	if n != 5 && n != 6 {
		return nil, ErrMalformed
	}

	typeVal, err := r.readUint()
	if err != nil {
		return nil, err
	}
	c := &CanonicalBlock{Type: BlockType(typeVal), PayloadHint: hint}

	if c.BlockNumber, err = r.readUint(); err != nil {
		return nil, err
	}
	procFlags, err := r.readUint()
	if err != nil {
		return nil, err
	}
	c.ProcFlags = uint8(procFlags)

	crcTypeVal, err := r.readUint()
	if err != nil {
		return nil, err
	}
	c.CRCType = crc.Type(crcTypeVal)

	content, err := r.readByteString()
	if err != nil {
		return nil, err
	}
	c.ContentOffset = r.pos - blockStart - len(content)
	c.ContentLength = len(content)
	if err := decodeBlockContent(c, content); err != nil {
		return nil, err
	}

	if c.CRCType != crc.TypeNone {
		crcFieldStart := r.pos
		field, err := r.readByteString()
		if err != nil {
			return nil, err
		}
		if len(field) != c.CRCType.Size() {
			return nil, ErrMalformed
		}
		c.CRC = readBackpatchedCRC(r.buf[crcFieldStart:r.pos], c.CRCType)

		blockBytes := make([]byte, r.pos-blockStart)
		copy(blockBytes, r.buf[blockStart:r.pos])
		valueStart := (crcFieldStart - blockStart) + 1
		for i := 0; i < c.CRCType.Size(); i++ {
			blockBytes[valueStart+i] = 0
		}
		if crc.Calculate(blockBytes, c.CRCType) != c.CRC {
			return nil, ErrInvalidCRC
		}
	}

	c.encodedLen = r.pos - blockStart
	return c, nil
}

func decodeBlockContent(c *CanonicalBlock, content []byte) error {
	inner := newCborReader(content)
	var err error
	switch c.Type {
	case BlockTypePreviousNode:
		c.PreviousNode, err = decodeEID(inner)
	case BlockTypeBundleAge:
		c.BundleAgeMs, err = inner.readUint()
	case BlockTypeHopCount:
		var m int
		if m, err = inner.readArrayHeader(); err == nil {
			if m != 2 {
				return ErrMalformed
			}
			if c.HopLimit, err = inner.readUint(); err == nil {
				c.HopCount, err = inner.readUint()
			}
		}
	case BlockTypeCustodyTrack:
		c.CustodyEID, err = decodeEID(inner)
	case BlockTypeDACSAccept:
		var m int
		if m, err = inner.readArrayHeader(); err == nil {
			if m != 2 {
				return ErrMalformed
			}
			if c.DACSFlowSource, err = decodeEID(inner); err == nil {
				var count int
				if count, err = inner.readArrayHeader(); err == nil {
					if count > maxDACSSequences {
						return ErrTooManySequences
					}
					c.DACSSequences = make([]uint64, count)
					for i := 0; i < count && err == nil; i++ {
						c.DACSSequences[i], err = inner.readUint()
					}
				}
			}
		}
	case BlockTypePayload:
		c.PayloadData = append([]byte(nil), content...)
	default:
		// Unrecognized private/experimental block type: keep the raw
		// bytes so re-encode is still lossless.
		c.PayloadData = append([]byte(nil), content...)
	}
	return err
}
