package bpv7

import (
	"bytes"

	"github.com/samsamfire/godtn/internal/crc"
)

// Flags is the primary block's processing-control-flags bitmap. Bit
// positions match RFC 9171 §4.2.3's assigned bundle processing flags.
type Flags uint32

const (
	FlagIsFragment         Flags = 1 << 0
	FlagIsAdminRecord       Flags = 1 << 1
	FlagMustNotFragment     Flags = 1 << 2
	FlagAckRequested        Flags = 1 << 5
	FlagStatusTimeRequested Flags = 1 << 6
	FlagReportReception     Flags = 1 << 14
	FlagReportForwarding    Flags = 1 << 16
	FlagReportDelivery      Flags = 1 << 17
	FlagReportDeletion      Flags = 1 << 18
)

const bundleVersion = 7

// PrimaryBlock mirrors RFC 9171 §4.3's primary bundle block, plus the
// delivery metadata this node attaches to every ingested or originated
// bundle (cache.go owns the storage-interface/committed-storage-id
// fields; this package only carries the on-wire fields).
type PrimaryBlock struct {
	Flags    Flags
	CRCType  crc.Type
	CRC      uint64
	Dest     EID
	Source   EID
	ReportTo EID

	CreationTimestampMs uint64
	SequenceNumber      uint64
	Lifetime            uint64

	FragmentOffset uint64
	TotalADULength uint64

	// encodedLen caches the byte length of this block alone, filled in by
	// Encode.
	encodedLen int
}

func (p *PrimaryBlock) IsFragment() bool   { return p.Flags&FlagIsFragment != 0 }
func (p *PrimaryBlock) IsAdminRecord() bool { return p.Flags&FlagIsAdminRecord != 0 }

// EncodedLen returns the byte length of the primary block alone, as
// cached by the most recent Encode call.
func (p *PrimaryBlock) EncodedLen() int { return p.encodedLen }

// Encode writes the primary block's definite-length CBOR array (the
// element count is 8, +2 if fragmented, +1 if CRCType != none) to buf,
// back-patching its own CRC field once the array is closed.
func (p *PrimaryBlock) Encode(buf *bytes.Buffer) error {
	start := buf.Len()

	n := 8
	if p.IsFragment() {
		n += 2
	}
	if p.CRCType != crc.TypeNone {
		n++
	}
	writeArrayHeader(buf, n)
	writeUint(buf, bundleVersion)
	writeUint(buf, uint64(p.Flags))
	writeUint(buf, uint64(p.CRCType))
	encodeEID(buf, p.Dest)
	encodeEID(buf, p.Source)
	encodeEID(buf, p.ReportTo)

	writeArrayHeader(buf, 2)
	writeUint(buf, p.CreationTimestampMs)
	writeUint(buf, p.SequenceNumber)

	writeUint(buf, p.Lifetime)

	if p.IsFragment() {
		writeUint(buf, p.FragmentOffset)
		writeUint(buf, p.TotalADULength)
	}

	crcFieldOffset := -1
	if p.CRCType != crc.TypeNone {
		crcFieldOffset = buf.Len()
		writeByteStringHeader(buf, p.CRCType.Size())
		for i := 0; i < p.CRCType.Size(); i++ {
			buf.WriteByte(0)
		}
	}

	p.encodedLen = buf.Len() - start

	if crcFieldOffset >= 0 {
		backpatchCRC(buf, start, crcFieldOffset, p.CRCType)
		p.CRC = readBackpatchedCRC(buf.Bytes()[crcFieldOffset:], p.CRCType)
	}
	return nil
}

// backpatchCRC recomputes the CRC over buf[start:] (with the CRC field's
// value bytes still zeroed) and writes it into the byte-string value at
// crcFieldOffset in place.
func backpatchCRC(buf *bytes.Buffer, start, crcFieldOffset int, t crc.Type) {
	raw := buf.Bytes()
	valueStart := crcFieldOffset + 1 // past the byte-string header (always 1 byte: 2 or 4 is < 24)
	sum := crc.Calculate(raw[start:], t)
	switch t {
	case crc.TypeCRC16:
		raw[valueStart] = byte(sum >> 8)
		raw[valueStart+1] = byte(sum)
	case crc.TypeCRC32C:
		raw[valueStart] = byte(sum >> 24)
		raw[valueStart+1] = byte(sum >> 16)
		raw[valueStart+2] = byte(sum >> 8)
		raw[valueStart+3] = byte(sum)
	}
}

func readBackpatchedCRC(field []byte, t crc.Type) uint64 {
	valueStart := 1
	switch t {
	case crc.TypeCRC16:
		return uint64(field[valueStart])<<8 | uint64(field[valueStart+1])
	case crc.TypeCRC32C:
		return uint64(field[valueStart])<<24 | uint64(field[valueStart+1])<<16 |
			uint64(field[valueStart+2])<<8 | uint64(field[valueStart+3])
	default:
		return 0
	}
}

// DecodePrimaryBlock reads one primary block starting at the reader's
// cursor. On success the reader's cursor sits just past the block.
func DecodePrimaryBlock(r *cborReader) (*PrimaryBlock, error) {
	blockStart := r.pos

	n, err := r.readArrayHeader()
	if err != nil {
		return nil, err
	}
	if n < 8 || n > 11 {
		return nil, ErrMalformed
	}

	version, err := r.readUint()
	if err != nil {
		return nil, err
	}
	if version != bundleVersion {
		return nil, ErrBadVersion
	}

	flagsVal, err := r.readUint()
	if err != nil {
		return nil, err
	}
	p := &PrimaryBlock{Flags: Flags(flagsVal)}

	crcTypeVal, err := r.readUint()
	if err != nil {
		return nil, err
	}
	p.CRCType = crc.Type(crcTypeVal)

	if p.Dest, err = decodeEID(r); err != nil {
		return nil, err
	}
	if p.Source, err = decodeEID(r); err != nil {
		return nil, err
	}
	if p.ReportTo, err = decodeEID(r); err != nil {
		return nil, err
	}

	tsLen, err := r.readArrayHeader()
	if err != nil || tsLen != 2 {
		return nil, ErrMalformed
	}
	if p.CreationTimestampMs, err = r.readUint(); err != nil {
		return nil, err
	}
	if p.SequenceNumber, err = r.readUint(); err != nil {
		return nil, err
	}

	if p.Lifetime, err = r.readUint(); err != nil {
		return nil, err
	}

	if p.IsFragment() {
		if p.FragmentOffset, err = r.readUint(); err != nil {
			return nil, err
		}
		if p.TotalADULength, err = r.readUint(); err != nil {
			return nil, err
		}
	}

	if p.CRCType != crc.TypeNone {
		crcFieldStart := r.pos
		field, err := r.readByteString()
		if err != nil {
			return nil, err
		}
		if len(field) != p.CRCType.Size() {
			return nil, ErrMalformed
		}
		p.CRC = readBackpatchedCRC(r.buf[crcFieldStart:r.pos], p.CRCType)

		blockBytes := make([]byte, r.pos-blockStart)
		copy(blockBytes, r.buf[blockStart:r.pos])
		valueStart := (crcFieldStart - blockStart) + 1
		for i := 0; i < p.CRCType.Size(); i++ {
			blockBytes[valueStart+i] = 0
		}
		if crc.Calculate(blockBytes, p.CRCType) != p.CRC {
			return nil, ErrInvalidCRC
		}
	}

	p.encodedLen = r.pos - blockStart
	return p, nil
}
