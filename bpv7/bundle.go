package bpv7

import "bytes"

// Bundle is a decoded primary block plus its ordered canonical blocks,
// the last of which is conventionally the payload block.
type Bundle struct {
	Primary    PrimaryBlock
	Canonicals []CanonicalBlock
}

// Encode serializes b as the wire format in §6: an indefinite-length CBOR
// array start, the primary block, each canonical block in order, and the
// CBOR break byte.
func Encode(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(cborIndefArrayStart)
	if err := b.Primary.Encode(&buf); err != nil {
		return nil, err
	}
	for i := range b.Canonicals {
		if err := b.Canonicals[i].Encode(&buf); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(cborBreak)
	return buf.Bytes(), nil
}

// Decode parses wire as a full bundle. Payload-block disambiguation uses
// the primary's admin-record flag, which is known before the payload
// block (always last) is reached.
func Decode(wire []byte) (*Bundle, error) {
	r := newCborReader(wire)
	if err := r.readIndefiniteArrayStart(); err != nil {
		return nil, err
	}

	primary, err := DecodePrimaryBlock(r)
	if err != nil {
		return nil, err
	}

	hint := PayloadHintPlain
	if primary.IsAdminRecord() {
		hint = PayloadHintAdminRecord
	}

	// No payload-confidentiality block type is registered (BPSec is out
	// of scope), so the hint is always the admin-record/plain call made
	// above; ciphertext disambiguation is left to a future BPSec package.
	var canonicals []CanonicalBlock
	for !r.atBreak() {
		cb, err := DecodeCanonicalBlock(r, hint)
		if err != nil {
			return nil, err
		}
		canonicals = append(canonicals, *cb)
	}
	if err := r.readBreak(); err != nil {
		return nil, err
	}

	return &Bundle{Primary: *primary, Canonicals: canonicals}, nil
}
