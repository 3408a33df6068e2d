package bpv7

import (
	"bytes"
	"testing"

	"github.com/samsamfire/godtn/internal/crc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicSendBundle() *Bundle {
	return &Bundle{
		Primary: PrimaryBlock{
			Flags:               FlagMustNotFragment,
			CRCType:             crc.TypeCRC16,
			Dest:                IPN(200, 1),
			Source:              IPN(100, 1),
			ReportTo:            DTNNone(),
			CreationTimestampMs: 755533838904,
			SequenceNumber:      0,
			Lifetime:            3600000,
		},
		Canonicals: []CanonicalBlock{
			{
				Type:        BlockTypePayload,
				BlockNumber: 1,
				CRCType:     crc.TypeCRC16,
				PayloadData: []byte("hello world\n"),
			},
		},
	}
}

// TestBasicSendWirePrefix pins the literal byte prefix from scenario 1:
// indefinite array start, a 9-element primary array (8 base fields plus a
// CRC-16 trailer), version 7, flags 0x04, CRC type 1, and an ipn
// destination of (200,1) — matching the fixture's leading
// "9F 89 07 04 01 82 02 82 18 C8 01".
func TestBasicSendWirePrefix(t *testing.T) {
	b := basicSendBundle()
	wire, err := Encode(b)
	require.NoError(t, err)

	want := []byte{0x9F, 0x89, 0x07, 0x04, 0x01, 0x82, 0x02, 0x82, 0x18, 0xC8, 0x01}
	require.GreaterOrEqual(t, len(wire), len(want))
	assert.Equal(t, want, wire[:len(want)])
	assert.Equal(t, byte(cborBreak), wire[len(wire)-1])
}

func TestBasicSendRoundTrip(t *testing.T) {
	b := basicSendBundle()
	wire, err := Encode(b)
	require.NoError(t, err)

	decoded, err := Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, b.Primary.Flags, decoded.Primary.Flags)
	assert.Equal(t, b.Primary.CRCType, decoded.Primary.CRCType)
	assert.Equal(t, b.Primary.Dest, decoded.Primary.Dest)
	assert.Equal(t, b.Primary.Source, decoded.Primary.Source)
	assert.Equal(t, b.Primary.ReportTo, decoded.Primary.ReportTo)
	assert.Equal(t, b.Primary.CreationTimestampMs, decoded.Primary.CreationTimestampMs)
	assert.Equal(t, b.Primary.Lifetime, decoded.Primary.Lifetime)
	require.Len(t, decoded.Canonicals, 1)
	assert.Equal(t, []byte("hello world\n"), decoded.Canonicals[0].PayloadData)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, wire, reencoded, "encode(decode(w)) must reproduce w byte-for-byte")
}

// TestPrimaryCRCMismatchDetected is scenario 2: flipping the primary
// block's CRC-16 trailer must make decode fail with ErrInvalidCRC and
// must not return a partially-built bundle.
func TestPrimaryCRCMismatchDetected(t *testing.T) {
	b := basicSendBundle()
	wire, err := Encode(b)
	require.NoError(t, err)

	// The CRC-16 field is the last two bytes of the primary block; the
	// primary block itself starts right after the "9F" indefinite-array
	// marker, at wire offset 1.
	primaryEnd := 1 + b.Primary.EncodedLen()
	corrupted := append([]byte(nil), wire...)
	corrupted[primaryEnd-2] = 0xBE
	corrupted[primaryEnd-1] = 0xEF

	_, err = Decode(corrupted)
	assert.ErrorIs(t, err, ErrInvalidCRC)
}

// TestCRCDetectsFieldValueFlip flips the destination EID's service-number
// byte (a direct small-uint value, so the flip changes data without
// altering CBOR structure) and checks the mismatch is still caught,
// demonstrating detection reaches beyond the CRC field itself into the
// rest of the protected span.
func TestCRCDetectsFieldValueFlip(t *testing.T) {
	b := basicSendBundle()
	wire, err := Encode(b)
	require.NoError(t, err)

	// Wire layout: 9F 89 07 04 01 82 02 82 18 C8 01 ... — the trailing
	// "01" at offset 10 is the destination's service number.
	const destServiceOffset = 10
	require.Equal(t, byte(1), wire[destServiceOffset])
	corrupted := append([]byte(nil), wire...)
	corrupted[destServiceOffset] = 5

	_, err = Decode(corrupted)
	assert.ErrorIs(t, err, ErrInvalidCRC)
}

// TestPreviousNodePassThrough mirrors scenario 3: a bundle carrying a
// previous-node extension ahead of its payload block decodes to exactly
// two canonical blocks in order, and re-encoding reproduces the input.
func TestPreviousNodePassThrough(t *testing.T) {
	payload := make([]byte, 30)
	for i := range payload {
		payload[i] = 0xAA
	}
	b := &Bundle{
		Primary: PrimaryBlock{
			Flags:               FlagMustNotFragment,
			CRCType:             crc.TypeNone,
			Dest:                IPN(200, 1),
			Source:              IPN(100, 1),
			ReportTo:            DTNNone(),
			CreationTimestampMs: 1,
			Lifetime:            3600000,
		},
		Canonicals: []CanonicalBlock{
			{Type: BlockTypePreviousNode, BlockNumber: 2, CRCType: crc.TypeNone, PreviousNode: IPN(300, 2)},
			{Type: BlockTypePayload, BlockNumber: 1, CRCType: crc.TypeNone, PayloadData: payload},
		},
	}

	wire, err := Encode(b)
	require.NoError(t, err)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	require.Len(t, decoded.Canonicals, 2)
	assert.Equal(t, BlockTypePreviousNode, decoded.Canonicals[0].Type)
	assert.Equal(t, IPN(300, 2), decoded.Canonicals[0].PreviousNode)
	assert.Equal(t, BlockTypePayload, decoded.Canonicals[1].Type)
	assert.Equal(t, payload, decoded.Canonicals[1].PayloadData)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, wire, reencoded)
}

func TestDACSAcceptRoundTrip(t *testing.T) {
	c := &CanonicalBlock{
		Type:           BlockTypeDACSAccept,
		BlockNumber:    1,
		CRCType:        crc.TypeCRC32C,
		DACSFlowSource: IPN(100, 1),
		DACSSequences:  []uint64{1, 2, 3},
	}
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))

	r := newCborReader(buf.Bytes())
	decoded, err := DecodeCanonicalBlock(r, PayloadHintAdminRecord)
	require.NoError(t, err)
	assert.Equal(t, IPN(100, 1), decoded.DACSFlowSource)
	assert.Equal(t, []uint64{1, 2, 3}, decoded.DACSSequences)
}

func TestDACSTooManySequencesRejected(t *testing.T) {
	seqs := make([]uint64, 17)
	for i := range seqs {
		seqs[i] = uint64(i)
	}
	c := &CanonicalBlock{Type: BlockTypeDACSAccept, DACSFlowSource: IPN(100, 1), DACSSequences: seqs}
	var buf bytes.Buffer
	err := c.Encode(&buf)
	assert.ErrorIs(t, err, ErrTooManySequences)
}

func TestBadVersionRejected(t *testing.T) {
	b := basicSendBundle()
	wire, err := Encode(b)
	require.NoError(t, err)

	corrupted := append([]byte(nil), wire...)
	corrupted[2] = 6 // version byte, right after "9F 89"
	_, err = Decode(corrupted)
	assert.ErrorIs(t, err, ErrBadVersion)
}
