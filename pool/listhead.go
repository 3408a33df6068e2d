package pool

// NewListHead carves a fresh sentinel block for a SubQueue or List owned
// by a higher-level package (flow's ingress/egress, cache's pending/idle
// lists). A freshly-allocated block is already a singleton (Alloc unlinks
// it from the free sub-queue, which sets prev == next == self), so no
// constructor work is needed beyond tagging it.
func (p *Pool) NewListHead() (BlockID, error) {
	return p.Alloc(SignatureListHead, ClassInternal)
}

// NewSubQueueAt wraps an existing list-head block (from NewListHead) as
// an empty SubQueue.
func NewSubQueueAt(head BlockID) SubQueue { return SubQueue{head: head} }

// NewListAt wraps an existing list-head block as an empty List.
func NewListAt(head BlockID) List { return List{head: head} }

func registerListHeadType(p *Pool) {
	p.RegisterType(SignatureListHead, TagListHead, nil, nil)
}
