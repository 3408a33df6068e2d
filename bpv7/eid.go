package bpv7

import (
	"bytes"
	"fmt"
)

// Scheme identifies an endpoint ID's URI scheme. Values match the
// RFC 9171 scheme-code assignments used on the wire (dtn=1, ipn=2) —
// the literal test fixtures in this package encode an ipn destination
// as [2, [node, service]], confirming the assignment.
type Scheme uint8

const (
	SchemeUndefined Scheme = 0
	SchemeDTN       Scheme = 1
	SchemeIPN       Scheme = 2
)

// EID is an endpoint ID. For SchemeIPN, Node and Service carry the two
// URI components; for SchemeDTN, only the dtn:none special form is
// supported, and Node/Service are unused.
type EID struct {
	Scheme  Scheme
	Node    uint64
	Service uint64
}

// DTNNone is the well-known null endpoint.
func DTNNone() EID { return EID{Scheme: SchemeDTN} }

// IPN builds an ipn:node.service endpoint ID.
func IPN(node, service uint64) EID { return EID{Scheme: SchemeIPN, Node: node, Service: service} }

func (e EID) String() string {
	switch e.Scheme {
	case SchemeDTN:
		return "dtn:none"
	case SchemeIPN:
		return fmt.Sprintf("ipn:%d.%d", e.Node, e.Service)
	default:
		return "undefined:"
	}
}

func encodeEID(buf *bytes.Buffer, e EID) {
	writeArrayHeader(buf, 2)
	writeUint(buf, uint64(e.Scheme))
	switch e.Scheme {
	case SchemeIPN:
		writeArrayHeader(buf, 2)
		writeUint(buf, e.Node)
		writeUint(buf, e.Service)
	case SchemeDTN:
		// dtn:none's SSP is the single-element string "none"; represented
		// compactly here as a 0 uint since no other dtn-scheme SSP is
		// supported (see Non-goals).
		writeUint(buf, 0)
	default:
		writeUint(buf, 0)
	}
}

func decodeEID(r *cborReader) (EID, error) {
	n, err := r.readArrayHeader()
	if err != nil || n != 2 {
		return EID{}, ErrMalformed
	}
	scheme, err := r.readUint()
	if err != nil {
		return EID{}, err
	}
	switch Scheme(scheme) {
	case SchemeIPN:
		m, err := r.readArrayHeader()
		if err != nil || m != 2 {
			return EID{}, ErrMalformed
		}
		node, err := r.readUint()
		if err != nil {
			return EID{}, err
		}
		service, err := r.readUint()
		if err != nil {
			return EID{}, err
		}
		return EID{Scheme: SchemeIPN, Node: node, Service: service}, nil
	case SchemeDTN:
		if _, err := r.readUint(); err != nil {
			return EID{}, err
		}
		return EID{Scheme: SchemeDTN}, nil
	default:
		return EID{}, ErrMalformed
	}
}
