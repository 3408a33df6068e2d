package udp

import (
	"net"
	"testing"
	"time"

	"github.com/samsamfire/godtn/bpv7"
	"github.com/samsamfire/godtn/cache"
	"github.com/samsamfire/godtn/flow"
	"github.com/samsamfire/godtn/internal/crc"
	"github.com/samsamfire/godtn/pool"
	"github.com/stretchr/testify/require"
)

func wireBundle(t *testing.T, src, dst bpv7.EID, seq uint64, payload []byte) []byte {
	b := &bpv7.Bundle{
		Primary: bpv7.PrimaryBlock{
			CRCType:             crc.TypeCRC16,
			Dest:                dst,
			Source:              src,
			ReportTo:            bpv7.DTNNone(),
			CreationTimestampMs: 1000,
			SequenceNumber:      seq,
			Lifetime:            60000,
		},
		Canonicals: []bpv7.CanonicalBlock{{
			Type:        bpv7.BlockTypePayload,
			BlockNumber: 1,
			CRCType:     crc.TypeCRC16,
			PayloadData: payload,
		}},
	}
	wire, err := bpv7.Encode(b)
	require.NoError(t, err)
	return wire
}

// TestIngressAdmitsBundle sends a raw bundle datagram at a running
// Adapter's ingress socket and checks it surfaces on the flow's ingress
// duct as an admitted cache entry.
func TestIngressAdmitsBundle(t *testing.T) {
	p := pool.NewPool(200, pool.Options{})
	c, err := cache.New(p, cache.Config{SelfAddr: bpv7.IPN(100, 1)}, nil)
	require.NoError(t, err)
	fl, err := flow.New(p, 10, 10, nil, nil)
	require.NoError(t, err)

	a := New(p, c, fl, "127.0.0.1:0", "127.0.0.1:0", 200, nil)
	require.NoError(t, a.Connect())
	defer a.Close()
	a.Start()

	ingressAddr := a.ingressConn.LocalAddr().String()
	sender, err := net.Dial("udp", ingressAddr)
	require.NoError(t, err)
	defer sender.Close()

	wire := wireBundle(t, bpv7.IPN(200, 1), bpv7.IPN(100, 1), 1, []byte("hello"))
	_, err = sender.Write(wire)
	require.NoError(t, err)

	id, ok := fl.Ingress.Pull(p, 2*time.Second)
	require.True(t, ok)
	ec, ok := c.Entry(id)
	require.True(t, ok)
	require.NotNil(t, ec)
}
