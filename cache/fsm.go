package cache

import "github.com/samsamfire/godtn/pool/rbtree"

// Tick drives every entry whose scheduled action-time has arrived,
// walking the time index from its smallest key upward per §4.8's driver
// description. now is the monotonic "now" snapshot for this pass.
func (c *Cache) Tick(now uint64) {
	c.mu.Lock()
	c.actionTime = now
	c.mu.Unlock()

	for {
		c.mu.Lock()
		node := c.timeIndex.Min()
		if node == nil || node.Key() > now {
			c.mu.Unlock()
			return
		}
		ec := node.Value
		c.timeIndex.Extract(node)
		ec.timeIndexNode = nil
		// Debounce: clear the wait flag and push action-time to infinity
		// before eval/transition so a CLA that never reports completion
		// does not get re-evaluated (and re-sent) every tick.
		ec.flags &^= FlagActionTimeWait
		ec.actionTimeMs = actionTimeInfinity
		c.mu.Unlock()

		next := c.getNextState(ec)
		c.transition(ec, next)

		if next == StateUndefined {
			c.discardAndRecycle(ec)
		} else {
			c.reschedule(ec)
		}
	}
}

func (c *Cache) getNextState(ec *entryContent) State {
	switch ec.state {
	case StateIdle:
		return c.evalIdle(ec)
	case StateQueue:
		return c.evalQueue(ec)
	case StateDelete:
		return c.evalDelete(ec)
	case StateGenerateDACS:
		return c.evalGenerateDACS(ec)
	default:
		return StateUndefined
	}
}

func (c *Cache) evalIdle(ec *entryContent) State {
	if c.actionTime >= ec.expireAtMs {
		return StateUndefined
	}
	if ec.flags&FlagLocalCustody == 0 {
		return StateDelete
	}
	if ec.flags&FlagActionTimeWait == 0 {
		if ec.primaryRef == 0 && ec.offloadStorageID != 0 {
			c.restoreFromOffload(ec)
		}
		if ec.primaryRef != 0 {
			return StateQueue
		}
	}
	return StateIdle
}

func (c *Cache) evalQueue(ec *entryContent) State {
	if ec.flags&FlagLocallyQueued == 0 {
		return StateIdle
	}
	return StateQueue
}

// exitQueue runs when the egress CLA has recorded completion for this
// entry (observed as LOCALLY_QUEUED clearing, which is what routes eval
// back to idle): clear PENDING_FORWARD; drop local custody unless the
// bundle is custody-tracked, in which case arm the local retransmit
// timer instead; release the in-memory ref if the bundle was offloaded.
func (c *Cache) exitQueue(ec *entryContent) {
	ec.flags &^= FlagPendingForward
	if ec.deliveryPolicy != PolicyCustodyTracking {
		ec.flags &^= FlagLocalCustody
	} else {
		ec.actionTimeMs = c.actionTime + ec.localRetxMs
		ec.flags |= FlagActionTimeWait
	}
	if ec.offloadStorageID != 0 && ec.primaryRef != 0 {
		c.p.Release(ec.primaryRef)
		ec.primaryRef = 0
	}
}

func (c *Cache) evalDelete(ec *entryContent) State {
	if ec.flags&FlagActionTimeWait == 0 {
		if ec.flags&FlagActivity == 0 {
			return StateUndefined
		}
		ec.flags &^= FlagActivity
		ec.flags |= FlagActionTimeWait
		ec.actionTimeMs = c.actionTime + c.ageOutMs
	}
	return StateDelete
}

func (c *Cache) exitDelete(ec *entryContent) {
	if ec.primaryRef != 0 {
		c.p.Release(ec.primaryRef)
		ec.primaryRef = 0
	}
	if ec.offloadStorageID != 0 && c.offload != nil {
		c.offload.Release(ec.offloadStorageID)
		ec.offloadStorageID = 0
	}
}

func (c *Cache) evalGenerateDACS(ec *entryContent) State {
	if ec.flags&FlagActionTimeWait == 0 {
		return StateIdle
	}
	return StateGenerateDACS
}

// exitGenerateDACS finalizes the DACS: extract it from the dacs index so
// no further custody-required arrival appends to it, and mark it locally
// held. No DACS bundle is built from dacsSeqs in this package, so the
// entry has no primary ref: evalIdle keeps it idle until expireAtMs has
// passed, and it is then discarded without being sent.
func (c *Cache) exitGenerateDACS(ec *entryContent) {
	c.mu.Lock()
	if ec.dacsIndexNode != nil {
		c.dacsIndex.Extract(ec.dacsIndexNode)
		ec.dacsIndexNode = nil
	}
	c.mu.Unlock()
	ec.flags |= FlagLocalCustody
}

func (c *Cache) transition(ec *entryContent, next State) {
	// Staying in the same state runs no exit/enter actions: re-entering
	// StateQueue would hand the entry to the forwarder a second time.
	if next == ec.state {
		return
	}
	c.runExit(ec)
	c.mu.Lock()
	c.exitCounts[ec.state]++
	c.enterCounts[next]++
	m := c.metrics
	from := ec.state
	c.mu.Unlock()
	m.IncStateExit(from.String())
	if next != StateUndefined {
		m.IncStateEnter(next.String())
	}
	ec.state = next
	c.runEnter(ec)
}

func (c *Cache) runExit(ec *entryContent) {
	switch ec.state {
	case StateQueue:
		c.exitQueue(ec)
	case StateDelete:
		c.exitDelete(ec)
	case StateGenerateDACS:
		c.exitGenerateDACS(ec)
	}
}

// runEnter dispatches entry actions for a newly-entered state — the
// counterpart to runExit, run after ec.state has already been updated.
func (c *Cache) runEnter(ec *entryContent) {
	switch ec.state {
	case StateQueue:
		c.enterQueue(ec)
	}
}

// enterQueue hands a newly idle->queue entry to the registered forwarder,
// marking it locally queued and pending-forward so evalQueue keeps it in
// StateQueue until the CLA reports completion via MarkEgressComplete.
func (c *Cache) enterQueue(ec *entryContent) {
	ec.flags |= FlagLocallyQueued | FlagPendingForward
	c.mu.Lock()
	fw := c.forwarder
	c.mu.Unlock()
	if fw != nil {
		fw.Forward(ec.selfID)
	} else {
		c.logger.Warn("cache: entry entered queue state with no forwarder registered", "entry", ec.selfID)
	}
}

// reschedule computes the entry's next time-index key per §4.8: fast
// retry if it is not in an explicit wait state, idle retry otherwise —
// unless an explicit wait deadline is both set and earlier, in which
// case the explicit deadline wins.
func (c *Cache) reschedule(ec *entryContent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := c.actionTime + c.idleRetryMs
	if ec.flags&FlagActionTimeWait == 0 {
		candidate = c.actionTime + c.fastRetryMs
	} else if ec.actionTimeMs < candidate {
		candidate = ec.actionTimeMs
	}
	ec.actionTimeMs = candidate

	if ec.timeIndexNode != nil {
		c.timeIndex.Extract(ec.timeIndexNode)
	}
	node := &rbtree.Node[*entryContent]{Value: ec}
	c.timeIndex.InsertGeneric(candidate, node)
	ec.timeIndexNode = node
}

func (c *Cache) discardAndRecycle(ec *entryContent) {
	c.mu.Lock()
	c.discardCount++
	m := c.metrics
	c.mu.Unlock()
	m.IncDiscard()
	c.pendingList.Remove(c.p, ec.selfID)
	c.p.Recycle(ec.selfID)
}

// restoreFromOffload asks the offload module to return the primary's
// bytes and decodes them back into a pool ref, clearing the
// offload-storage bookkeeping on success. Left as a no-op if no offload
// module is registered or the restore fails; the entry simply remains
// without a ref and retries on the next idle pass.
func (c *Cache) restoreFromOffload(ec *entryContent) {
	if c.offload == nil {
		return
	}
	data, err := c.offload.Restore(ec.offloadStorageID)
	if err != nil {
		c.logger.Warn("cache: offload restore failed", "storage_id", ec.offloadStorageID, "err", err)
		return
	}
	ref, err := c.decodeAndRef(data)
	if err != nil {
		c.logger.Warn("cache: offloaded bundle failed to decode", "storage_id", ec.offloadStorageID, "err", err)
		return
	}
	ec.primaryRef = ref
}
