package pool

import "sync/atomic"

// AllocClass distinguishes the two allocation guard thresholds: a primary
// bundle allocation is refused once free count drops to
// bblockAllocThreshold, while every other allocation (other than the
// admin block, which is never re-allocated) is refused only once free
// count drops to internalAllocThreshold.
type AllocClass uint8

const (
	// ClassInternal covers everything except freshly-ingested bundles:
	// canonical blocks, ref blocks, flow blocks, cache entries, jobs.
	ClassInternal AllocClass = iota
	// ClassBundle covers newly-allocated primary blocks for inbound or
	// locally-originated bundles — the class most likely to be refused
	// first, to leave headroom for control-plane blocks.
	ClassBundle
)

// Alloc carves a block off the free sub-queue for the given content
// signature and allocation class. It fails with ErrUnknownType if the
// signature was never registered, or ErrOutOfMemory if the relevant
// threshold guard is tripped.
func (p *Pool) Alloc(signature uint32, class AllocClass) (BlockID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	desc, ok := p.registry[signature]
	if !ok {
		return InvalidBlockID, ErrUnknownType
	}

	free := uint32(p.free.Depth())
	if class == ClassBundle && free <= p.bblockAllocThreshold {
		return InvalidBlockID, ErrOutOfMemory
	}
	if free <= p.internalAllocThreshold {
		return InvalidBlockID, ErrOutOfMemory
	}
	if p.isEmptyLocked(p.free.head) {
		return InvalidBlockID, ErrOutOfMemory
	}

	id := p.slots[p.free.head].next
	p.unlinkLocked(id)
	atomic.AddUint32(&p.free.pullCount, 1)

	s := &p.slots[id]
	s.tag = desc.tag
	s.signature = signature
	s.refcount = 0
	s.content = nil

	if desc.construct != nil {
		desc.construct(p, id)
	}
	return id, nil
}

// Recycle pushes id onto the recycle sub-queue. The block's destructor
// does not run until CollectGarbage processes it, so cyclic or deferred
// teardown (a ref releasing its target, which may itself need recycling)
// never recurses arbitrarily deep.
func (p *Pool) Recycle(id BlockID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recycle.pushSingleLocked(p, id)
}

// CollectGarbage drains up to limit entries from the recycle sub-queue,
// running each one's destructor, clearing its content, and returning it to
// the free sub-queue. Returns the number of blocks actually collected.
func (p *Pool) CollectGarbage(limit int) int {
	collected := 0
	for collected < limit {
		p.mu.Lock()
		if p.isEmptyLocked(p.recycle.head) {
			p.mu.Unlock()
			break
		}
		id := p.slots[p.recycle.head].next
		p.unlinkLocked(id)
		atomic.AddUint32(&p.recycle.pullCount, 1)
		signature := p.slots[id].signature
		desc, hasDesc := p.registry[signature]
		p.mu.Unlock()

		if hasDesc && desc.destruct != nil {
			desc.destruct(p, id)
		}

		p.mu.Lock()
		s := &p.slots[id]
		s.tag = TagUndefined
		s.signature = SignatureNone
		s.refcount = 0
		s.content = nil
		p.free.pushSingleLocked(p, id)
		p.mu.Unlock()

		collected++
	}
	return collected
}

// Stats reports the pool's current free/recycle/in-use split. Free +
// recycled + in-use always equals Capacity()-4 (the four reserved admin
// and sentinel blocks are never counted as "in use" content blocks).
type Stats struct {
	Free    int
	Recycle int
	InUse   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := p.free.Depth()
	recycled := p.recycle.Depth()
	total := len(p.slots) - int(firstCarvableBlock)
	return Stats{Free: free, Recycle: recycled, InUse: total - free - recycled}
}
