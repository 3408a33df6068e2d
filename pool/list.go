package pool

// List is an intrusive doubly-linked list with a sentinel head block.
// Membership is exclusive: a block linked into one List cannot also be
// linked into another (or a SubQueue) at the same time, since both share
// the same prev/next fields in the block's slot.
type List struct {
	head BlockID
}

// linkTailLocked appends id just before head (i.e. at the tail), assuming
// id is currently a singleton. Caller holds p.mu.
func (p *Pool) linkTailLocked(head, id BlockID) {
	last := p.slots[head].prev
	p.slots[id].prev = last
	p.slots[id].next = head
	p.slots[last].next = id
	p.slots[head].prev = id
}

// linkHeadLocked inserts id immediately after head (i.e. at the front).
func (p *Pool) linkHeadLocked(head, id BlockID) {
	first := p.slots[head].next
	p.slots[id].prev = head
	p.slots[id].next = first
	p.slots[first].prev = id
	p.slots[head].next = id
}

// unlinkLocked removes id from whatever list it is on, leaving it a
// singleton. No-op if id is already a singleton.
func (p *Pool) unlinkLocked(id BlockID) {
	s := &p.slots[id]
	if s.isSingleton(id) {
		return
	}
	p.slots[s.prev].next = s.next
	p.slots[s.next].prev = s.prev
	s.prev, s.next = id, id
}

func (p *Pool) isEmptyLocked(head BlockID) bool {
	return p.slots[head].next == head
}

// PushBack appends id to the tail of the list rooted at head.
func (l *List) PushBack(p *Pool, id BlockID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linkTailLocked(l.head, id)
}

// Remove detaches id from the list (whichever one currently holds it).
func (l *List) Remove(p *Pool, id BlockID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlinkLocked(id)
}

// IsEmpty reports whether the list currently holds no blocks.
func (l *List) IsEmpty(p *Pool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isEmptyLocked(l.head)
}

// Head returns the BlockID of the list's sentinel.
func (l *List) Head() BlockID { return l.head }

// Walk calls fn for every block currently on the list, in order, stopping
// early if fn returns false. Walk takes a snapshot-free live traversal: fn
// must not unlink the current node from a *different* list, but removing
// the current node from this list (e.g. the job runner detaching a job
// before invoking its handler) is the expected and supported pattern,
// which is why each step captures "next" before calling fn.
func (l *List) Walk(p *Pool, fn func(id BlockID) bool) {
	p.mu.Lock()
	cur := p.slots[l.head].next
	p.mu.Unlock()

	for cur != l.head {
		p.mu.Lock()
		next := p.slots[cur].next
		p.mu.Unlock()

		if !fn(cur) {
			return
		}
		cur = next
	}
}
