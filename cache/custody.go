package cache

import (
	"github.com/samsamfire/godtn/bpv7"
	"github.com/samsamfire/godtn/pool"
)

// Admit ingests a freshly-decoded wire bundle into the cache: dedupe
// against the bundle index, carve a new entry, wrap the wire bytes in a
// primary-block slot, and place the entry on the idle list with
// FlagLocalCustody set per §4.8's "every admitted entry starts with local
// custody" rule resolved for the plain-send case.
func (c *Cache) Admit(wire []byte, key BundleKey, destNode uint64, policy DeliveryPolicy, lifetimeMs uint64, nowMs uint64) (*entryContent, error) {
	c.mu.Lock()
	existing := c.findBundleEntry(key.SourceNode, key.SourceService, key.SequenceNum)
	c.mu.Unlock()
	if existing != nil {
		// A duplicate arrival for an entry already winding down to delete
		// is activity: reset its age-out grace period instead of letting
		// it expire out from under a peer that is still retransmitting.
		if existing.state == StateDelete {
			existing.flags |= FlagActivity
		}
		return existing, nil
	}

	ref, err := c.decodeAndRef(wire)
	if err != nil {
		return nil, err
	}

	id, err := c.p.Alloc(pool.SignatureEntry, pool.ClassInternal)
	if err != nil {
		c.p.Release(ref)
		return nil, err
	}

	ec := &entryContent{
		cache:          c,
		selfID:         id,
		state:          StateIdle,
		flags:          FlagLocalCustody,
		key:            key,
		deliveryPolicy: policy,
		destNode:       destNode,
		expireAtMs:     nowMs + lifetimeMs,
		actionTimeMs:   nowMs,
		localRetxMs:    c.defaultRetxMs,
		primaryRef:     ref,
	}
	c.p.SetContent(id, ec)

	c.mu.Lock()
	c.insertBundleIndex(ec)
	c.insertDestEIDIndex(ec)
	c.mu.Unlock()

	c.idleList.PushBack(c.p, id)
	c.reschedule(ec)
	return ec, nil
}

// AdmitLocal is Admit's entry point for a bundle originated on this node
// rather than received over a CLA — same storage path, just named for
// the caller's clarity (cmd/bpcat, cmd/bpsock).
func (c *Cache) AdmitLocal(wire []byte, key BundleKey, destNode uint64, policy DeliveryPolicy, lifetimeMs, nowMs uint64) (*entryContent, error) {
	return c.Admit(wire, key, destNode, policy, lifetimeMs, nowMs)
}

// AdmitCustodyRequest is Admit's custody-tracking variant of §4.9: the
// incoming bundle's custody-tracking block is rewritten to name this node
// as custodian before storage, and the arrival is recorded against the
// source peer's in-progress DACS so the next generate-dacs pass
// acknowledges it.
func (c *Cache) AdmitCustodyRequest(wire []byte, key BundleKey, destNode uint64, lifetimeMs, nowMs uint64, peerNode uint64) (*entryContent, error) {
	b, err := bpv7.Decode(wire)
	if err != nil {
		return nil, err
	}
	for i := range b.Canonicals {
		if b.Canonicals[i].Type == bpv7.BlockTypeCustodyTrack {
			b.Canonicals[i].CustodyEID = c.selfAddr
		}
	}
	if wire, err = bpv7.Encode(b); err != nil {
		return nil, err
	}
	ec, err := c.Admit(wire, key, destNode, PolicyCustodyTracking, lifetimeMs, nowMs)
	if err != nil {
		return nil, err
	}
	c.appendToDACS(peerNode, key.SequenceNum, nowMs)
	return ec, nil
}

// appendToDACS records seq as acknowledged for peerNode, creating the
// peer's in-progress DACS entry if none is active. Once the entry holds
// maxDACSSequences acks it is taken out of the dacs index and scheduled
// for the next Tick, which finalizes it, per §4.9's "append; finalize
// immediately when full" rule.
func (c *Cache) appendToDACS(peerNode, seq, nowMs uint64) {
	c.mu.Lock()
	ec := c.findDACSEntry(peerNode)
	c.mu.Unlock()

	if ec == nil {
		id, err := c.p.Alloc(pool.SignatureEntry, pool.ClassInternal)
		if err != nil {
			c.logger.Warn("cache: failed to allocate DACS entry", "peer", peerNode, "err", err)
			return
		}
		ec = &entryContent{
			cache:          c,
			selfID:         id,
			state:          StateGenerateDACS,
			deliveryPolicy: PolicyNone,
			destNode:       peerNode,
			expireAtMs:     nowMs + c.defaultRetxMs,
			actionTimeMs:   nowMs + c.defaultRetxMs,
			dacsFlowSource: c.selfAddr,
		}
		c.p.SetContent(id, ec)

		c.mu.Lock()
		c.insertDACSIndex(ec, peerNode)
		c.mu.Unlock()

		c.pendingList.PushBack(c.p, id)
		ec.flags |= FlagActionTimeWait
		c.reschedule(ec)
	}

	ec.dacsSeqs = append(ec.dacsSeqs, seq)
	if len(ec.dacsSeqs) >= maxDACSSequences {
		// Extract from dacsIndex immediately, not just on the next tick's
		// exitGenerateDACS: findDACSEntry must stop returning this entry
		// the instant it fills up, or a 17th arrival before the next Tick
		// would append past the §4.9 cap instead of starting a fresh DACS.
		c.mu.Lock()
		if ec.dacsIndexNode != nil {
			c.dacsIndex.Extract(ec.dacsIndexNode)
			ec.dacsIndexNode = nil
		}
		c.mu.Unlock()
		c.forceImminent(ec, nowMs)
	}
}

// forceImminent schedules ec to be evaluated on the very next tick,
// bypassing the idle/fast retry cadence — used to finalize a DACS the
// instant it fills up rather than waiting out the normal retry window.
func (c *Cache) forceImminent(ec *entryContent, nowMs uint64) {
	ec.flags |= FlagActionTimeWait
	ec.actionTimeMs = nowMs
	c.mu.Lock()
	if ec.timeIndexNode != nil {
		c.timeIndex.Extract(ec.timeIndexNode)
		ec.timeIndexNode = nil
	}
	c.mu.Unlock()
	c.reschedule(ec)
}

// HandleIncomingDACS processes a received DACS bundle: for every
// acknowledged sequence addressed to flowSource, clear FlagLocalCustody on
// the matching bundle_index entry so the next idle pass deletes it.
func (c *Cache) HandleIncomingDACS(flowSource bpv7.EID, seqs []uint64) {
	for _, seq := range seqs {
		c.mu.Lock()
		ec := c.findBundleEntry(flowSource.Node, flowSource.Service, seq)
		c.mu.Unlock()
		if ec == nil {
			continue
		}
		ec.flags &^= FlagLocalCustody
		c.forceImminent(ec, c.actionTime)
	}
}
