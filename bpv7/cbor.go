package bpv7

import (
	"bytes"
	"encoding/binary"
)

// Minimal CBOR (RFC 8949) primitives, hand-rolled rather than pulled from
// an external codec: the primary and canonical block encoders need
// byte-exact control over where the CRC field sits so they can zero it,
// close the array, recompute, and back-patch in place — a generic
// Marshal-based library hides exactly that seam.

const (
	majorUnsigned   = 0 << 5
	majorByteString = 2 << 5
	majorArray      = 4 << 5
	majorSimple     = 7 << 5

	additionalIndefinite = 31
	cborBreak            = 0xFF
	cborIndefArrayStart  = majorArray | additionalIndefinite
)

func writeHead(buf *bytes.Buffer, major byte, n uint64) {
	switch {
	case n < 24:
		buf.WriteByte(major | byte(n))
	case n <= 0xFF:
		buf.WriteByte(major | 24)
		buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(major | 25)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	case n <= 0xFFFFFFFF:
		buf.WriteByte(major | 26)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(major | 27)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		buf.Write(b[:])
	}
}

func writeUint(buf *bytes.Buffer, v uint64) { writeHead(buf, majorUnsigned, v) }

func writeArrayHeader(buf *bytes.Buffer, n int) { writeHead(buf, majorArray, uint64(n)) }

func writeByteString(buf *bytes.Buffer, b []byte) {
	writeHead(buf, majorByteString, uint64(len(b)))
	buf.Write(b)
}

func writeByteStringHeader(buf *bytes.Buffer, n int) { writeHead(buf, majorByteString, uint64(n)) }

// cborReader walks a byte slice major-type by major-type. It never
// allocates beyond the slices it returns, and every read method reports
// ErrMalformed rather than panicking on a truncated buffer.
type cborReader struct {
	buf []byte
	pos int
}

func newCborReader(buf []byte) *cborReader { return &cborReader{buf: buf} }

func (r *cborReader) remaining() int { return len(r.buf) - r.pos }

func (r *cborReader) peekByte() (byte, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	return r.buf[r.pos], true
}

// readHead returns the major type (top 3 bits) and the decoded length/value
// argument for the item at the cursor, advancing past the head bytes.
func (r *cborReader) readHead() (major byte, value uint64, err error) {
	if r.remaining() < 1 {
		return 0, 0, ErrMalformed
	}
	b := r.buf[r.pos]
	r.pos++
	major = b & 0xE0
	additional := b & 0x1F
	switch {
	case additional < 24:
		return major, uint64(additional), nil
	case additional == 24:
		if r.remaining() < 1 {
			return 0, 0, ErrMalformed
		}
		value = uint64(r.buf[r.pos])
		r.pos++
	case additional == 25:
		if r.remaining() < 2 {
			return 0, 0, ErrMalformed
		}
		value = uint64(binary.BigEndian.Uint16(r.buf[r.pos:]))
		r.pos += 2
	case additional == 26:
		if r.remaining() < 4 {
			return 0, 0, ErrMalformed
		}
		value = uint64(binary.BigEndian.Uint32(r.buf[r.pos:]))
		r.pos += 4
	case additional == 27:
		if r.remaining() < 8 {
			return 0, 0, ErrMalformed
		}
		value = binary.BigEndian.Uint64(r.buf[r.pos:])
		r.pos += 8
	case additional == additionalIndefinite:
		return major, 0, nil
	default:
		return 0, 0, ErrMalformed
	}
	return major, value, nil
}

func (r *cborReader) readUint() (uint64, error) {
	major, v, err := r.readHead()
	if err != nil {
		return 0, err
	}
	if major != majorUnsigned {
		return 0, ErrMalformed
	}
	return v, nil
}

// readArrayHeader returns the declared length of a definite-length array.
func (r *cborReader) readArrayHeader() (int, error) {
	major, v, err := r.readHead()
	if err != nil {
		return 0, err
	}
	if major != majorArray {
		return 0, ErrMalformed
	}
	return int(v), nil
}

func (r *cborReader) readIndefiniteArrayStart() error {
	b, ok := r.peekByte()
	if !ok || b != cborIndefArrayStart {
		return ErrMalformed
	}
	r.pos++
	return nil
}

func (r *cborReader) atBreak() bool {
	b, ok := r.peekByte()
	return ok && b == cborBreak
}

func (r *cborReader) readBreak() error {
	if !r.atBreak() {
		return ErrMalformed
	}
	r.pos++
	return nil
}

func (r *cborReader) readByteString() ([]byte, error) {
	major, n, err := r.readHead()
	if err != nil {
		return nil, err
	}
	if major != majorByteString {
		return nil, ErrMalformed
	}
	if uint64(r.remaining()) < n {
		return nil, ErrMalformed
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}
