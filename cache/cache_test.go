package cache

import (
	"testing"

	"github.com/samsamfire/godtn/bpv7"
	"github.com/samsamfire/godtn/internal/crc"
	"github.com/samsamfire/godtn/pool"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *pool.Pool) {
	p := pool.NewPool(200, pool.Options{})
	c, err := New(p, Config{SelfAddr: bpv7.IPN(100, 1)}, nil)
	require.NoError(t, err)
	return c, p
}

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

func TestAdmitDedupesOnSameKey(t *testing.T) {
	c, _ := newTestCache(t)
	key := BundleKey{SourceNode: 200, SourceService: 1, SequenceNum: 1}
	src := bpv7.IPN(200, 1)
	dst := bpv7.IPN(100, 1)
	wire := wireBundle(t, src, dst, 1, []byte("hello"))

	ec1, err := c.Admit(wire, key, 100, PolicyNone, 60000, 0)
	require.NoError(t, err)
	ec2, err := c.Admit(wire, key, 100, PolicyNone, 60000, 0)
	require.NoError(t, err)
	require.Same(t, ec1, ec2)
}

func TestIdleEntryWithoutCustodyIsDiscarded(t *testing.T) {
	c, _ := newTestCache(t)
	key := BundleKey{SourceNode: 200, SourceService: 1, SequenceNum: 1}
	wire := wireBundle(t, bpv7.IPN(200, 1), bpv7.IPN(100, 1), 1, []byte("x"))

	ec, err := c.Admit(wire, key, 100, PolicyNone, 60000, 0)
	require.NoError(t, err)
	ec.flags &^= FlagLocalCustody

	// Admit schedules the entry one fast retry (500ms) out: the first pass
	// moves it idle -> delete, the next one finds no activity and discards.
	c.Tick(500)
	c.Tick(1000)
	require.Equal(t, uint64(1), c.Stats().Discards)
}

func TestExitQueueDropsCustodyForNonTrackedDelivery(t *testing.T) {
	c, _ := newTestCache(t)
	key := BundleKey{SourceNode: 200, SourceService: 1, SequenceNum: 1}
	wire := wireBundle(t, bpv7.IPN(200, 1), bpv7.IPN(100, 1), 1, []byte("x"))

	ec, err := c.Admit(wire, key, 100, PolicyNone, 60000, 0)
	require.NoError(t, err)

	ec.state = StateQueue
	ec.flags |= FlagLocallyQueued | FlagPendingForward
	ec.flags &^= FlagLocallyQueued // simulate the CLA recording completion

	next := c.getNextState(ec)
	require.Equal(t, StateIdle, next)
	c.transition(ec, next)
	require.Equal(t, Flags(0), ec.flags&FlagLocalCustody)
}

func TestExitQueueArmsRetransmitForCustodyTracking(t *testing.T) {
	c, _ := newTestCache(t)
	key := BundleKey{SourceNode: 200, SourceService: 1, SequenceNum: 1}
	wire := wireBundle(t, bpv7.IPN(200, 1), bpv7.IPN(100, 1), 1, []byte("x"))

	ec, err := c.Admit(wire, key, 100, PolicyCustodyTracking, 60000, 0)
	require.NoError(t, err)

	ec.state = StateQueue
	ec.flags |= FlagLocallyQueued
	ec.flags &^= FlagLocallyQueued

	next := c.getNextState(ec)
	c.transition(ec, next)
	require.NotEqual(t, Flags(0), ec.flags&FlagLocalCustody)
	require.NotEqual(t, Flags(0), ec.flags&FlagActionTimeWait)
}

func TestAppendToDACSFinalizesAtSixteen(t *testing.T) {
	c, _ := newTestCache(t)
	for i := uint64(1); i < maxDACSSequences; i++ {
		c.appendToDACS(55, i, 100)
	}
	c.mu.Lock()
	ec := c.findDACSEntry(55)
	c.mu.Unlock()
	require.NotNil(t, ec)

	c.appendToDACS(55, maxDACSSequences, 100)
	require.Len(t, ec.dacsSeqs, maxDACSSequences)
	require.NotEqual(t, Flags(0), ec.flags&FlagActionTimeWait)
	require.Equal(t, uint64(100), ec.actionTimeMs)

	// A full DACS entry must leave dacsIndex immediately, not just once
	// the next Tick runs exitGenerateDACS, or an arrival in between would
	// append past the 16-sequence cap.
	c.mu.Lock()
	stillIndexed := c.findDACSEntry(55)
	c.mu.Unlock()
	require.Nil(t, stillIndexed)
}

func TestAppendToDACSStartsFreshEntryPastSixteen(t *testing.T) {
	c, _ := newTestCache(t)
	for i := uint64(1); i <= maxDACSSequences; i++ {
		c.appendToDACS(55, i, 100)
	}
	c.appendToDACS(55, maxDACSSequences+1, 100)

	c.mu.Lock()
	ec := c.findDACSEntry(55)
	c.mu.Unlock()
	require.NotNil(t, ec)
	require.Equal(t, []uint64{maxDACSSequences + 1}, ec.dacsSeqs)
}

func TestHandleIncomingDACSClearsLocalCustody(t *testing.T) {
	c, _ := newTestCache(t)
	key := BundleKey{SourceNode: 100, SourceService: 1, SequenceNum: 7}
	wire := wireBundle(t, bpv7.IPN(100, 1), bpv7.IPN(200, 1), 7, []byte("x"))

	ec, err := c.Admit(wire, key, 200, PolicyCustodyTracking, 60000, 0)
	require.NoError(t, err)
	require.NotEqual(t, Flags(0), ec.flags&FlagLocalCustody)

	c.HandleIncomingDACS(bpv7.IPN(100, 1), []uint64{7})
	require.Equal(t, Flags(0), ec.flags&FlagLocalCustody)
}

func TestGenerateDACSExitExtractsFromIndex(t *testing.T) {
	c, _ := newTestCache(t)
	c.appendToDACS(77, 1, 0)
	c.mu.Lock()
	ec := c.findDACSEntry(77)
	c.mu.Unlock()
	require.NotNil(t, ec)

	ec.state = StateGenerateDACS
	c.exitGenerateDACS(ec)

	c.mu.Lock()
	found := c.findDACSEntry(77)
	c.mu.Unlock()
	require.Nil(t, found)
	require.NotEqual(t, Flags(0), ec.flags&FlagLocalCustody)
}

// fakeForwarder records every entry Cache hands it, standing in for a CLA
// adapter in tests that need to observe the idle->queue enqueue action.
type fakeForwarder struct {
	forwarded []pool.BlockID
}

func (f *fakeForwarder) Forward(id pool.BlockID) {
	f.forwarded = append(f.forwarded, id)
}

func TestEnterQueuePushesToForwarder(t *testing.T) {
	c, _ := newTestCache(t)
	fw := &fakeForwarder{}
	c.SetForwarder(fw)

	key := BundleKey{SourceNode: 200, SourceService: 1, SequenceNum: 1}
	wire := wireBundle(t, bpv7.IPN(200, 1), bpv7.IPN(100, 1), 1, []byte("x"))
	ec, err := c.Admit(wire, key, 100, PolicyNone, 60000, 0)
	require.NoError(t, err)

	next := c.getNextState(ec)
	require.Equal(t, StateQueue, next)
	c.transition(ec, next)

	require.Equal(t, []pool.BlockID{ec.selfID}, fw.forwarded)
	require.NotEqual(t, Flags(0), ec.flags&FlagLocallyQueued)
	require.NotEqual(t, Flags(0), ec.flags&FlagPendingForward)
}

func TestReplayForDestinationForcesImminentReconsideration(t *testing.T) {
	c, _ := newTestCache(t)
	key := BundleKey{SourceNode: 200, SourceService: 1, SequenceNum: 1}
	wire := wireBundle(t, bpv7.IPN(200, 1), bpv7.IPN(100, 1), 1, []byte("x"))
	ec, err := c.Admit(wire, key, 300, PolicyNone, 60000, 0)
	require.NoError(t, err)

	ec.flags |= FlagActionTimeWait
	ec.actionTimeMs = 999999

	c.ReplayForDestination(300, 42)
	require.Equal(t, uint64(42), ec.actionTimeMs)
}

func TestAdmitSetsActivityOnDuplicateArrivalDuringDelete(t *testing.T) {
	c, _ := newTestCache(t)
	key := BundleKey{SourceNode: 200, SourceService: 1, SequenceNum: 1}
	wire := wireBundle(t, bpv7.IPN(200, 1), bpv7.IPN(100, 1), 1, []byte("x"))

	ec, err := c.Admit(wire, key, 100, PolicyNone, 60000, 0)
	require.NoError(t, err)
	ec.state = StateDelete

	ec2, err := c.Admit(wire, key, 100, PolicyNone, 60000, 0)
	require.NoError(t, err)
	require.Same(t, ec, ec2)
	require.NotEqual(t, Flags(0), ec.flags&FlagActivity)
}
