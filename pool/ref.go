package pool

// refContent is the payload of a TagRef block: a pointer (by BlockID) at
// some other block. Creating a ref bumps the target's refcount; recycling
// one decrements it, pushing the target to recycle at zero.
type refContent struct {
	target BlockID
}

// MakeRef allocates a new reference block pointing at target, bumping
// target's refcount. The reference lets the same payload sit on a storage
// list and a transmit queue simultaneously without copying.
func (p *Pool) MakeRef(target BlockID) (BlockID, error) {
	id, err := p.Alloc(SignatureBlockRef, ClassInternal)
	if err != nil {
		return InvalidBlockID, err
	}
	p.mu.Lock()
	p.slots[target].refcount++
	p.slots[id].content = refContent{target: target}
	p.mu.Unlock()
	return id, nil
}

// RefTarget returns the block a ref block points at, or InvalidBlockID if
// id is not a ref block.
func (p *Pool) RefTarget(id BlockID) BlockID {
	p.mu.Lock()
	defer p.mu.Unlock()
	rc, ok := p.slots[id].content.(refContent)
	if !ok {
		return InvalidBlockID
	}
	return rc.target
}

// refDestructor is the TagRef destructor: release the target and clear
// the ref's own content. Registered once in NewPool.
func refDestructor(p *Pool, id BlockID) {
	p.mu.Lock()
	rc, ok := p.slots[id].content.(refContent)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.Release(rc.target)
}

// Duplicate bumps target's refcount without allocating a new ref block —
// used when a caller already holds a ref and needs another independent
// handle to the same underlying content (e.g. cloning the primary ref
// into a cache entry).
func (p *Pool) Duplicate(target BlockID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[target].refcount++
}

// Release decrements target's refcount; if it reaches zero and the block
// is not linked into any named list (it is a singleton), it is pushed to
// recycle.
func (p *Pool) Release(target BlockID) {
	p.mu.Lock()
	s := &p.slots[target]
	if s.refcount > 0 {
		s.refcount--
	}
	shouldRecycle := s.refcount == 0 && s.isSingleton(target)
	p.mu.Unlock()

	if shouldRecycle {
		p.Recycle(target)
	}
}
