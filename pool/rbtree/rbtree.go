// Package rbtree implements a generic ordered red-black tree used as the
// secondary-index substrate for the storage cache (hash/time/destination/
// custody indices). Keys are uint64; nodes carrying equal keys in a
// non-unique index are ordered by insertion sequence so iteration order
// among ties is stable, matching the comparator-with-tiebreaker design
// called for by the storage cache's time index.
package rbtree

// Node is one link in a tree. A caller embeds Node[V] inside its own
// struct (a cache entry, typically) once per index it participates in —
// an entry that lives in four indices simultaneously embeds four distinct
// Node values, each independently insertable/extractable.
type Node[V any] struct {
	left, right, parent *Node[V]
	red                 bool
	key                 uint64
	seq                 uint64
	Value               V
}

// Key returns the ordering key this node was inserted with.
func (n *Node[V]) Key() uint64 { return n.key }

// IsRed reports the node's current color; exposed mainly for tests that
// assert on red-black invariants after insert/extract sequences.
func (n *Node[V]) IsRed() bool { return n != nil && n.red }

func (n *Node[V]) isBlack() bool { return n == nil || !n.red }

// less orders first by key, then by insertion sequence so that a
// "generic" (non-unique-key) insert always has a well-defined total order.
func (n *Node[V]) less(key, seq uint64) bool {
	if n.key != key {
		return n.key < key
	}
	return n.seq < seq
}

// Tree is an ordered index rooted at a single node.
type Tree[V any] struct {
	root    *Node[V]
	size    int
	nextSeq uint64
}

// New returns an empty tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{}
}

// Len returns the number of nodes currently in the tree.
func (t *Tree[V]) Len() int { return t.size }

// IsEmpty reports whether the tree holds no nodes.
func (t *Tree[V]) IsEmpty() bool { return t.root == nil }

// IsMember reports whether n is currently linked into this tree, found by
// walking parent pointers to the root and comparing against t.root — a
// detached node (zero value, or one that was Extract-ed) always reports
// false since Extract clears its parent/child pointers.
func (t *Tree[V]) IsMember(n *Node[V]) bool {
	if n == nil {
		return false
	}
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur == t.root
}

func (t *Tree[V]) rotateLeft(x *Node[V]) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *Tree[V]) rotateRight(x *Node[V]) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

// insert places n according to key/seq ordering and returns the existing
// node with an equal key when uniqueOnly is set and a collision is found
// (in which case n is not linked in, though its key, seq and link fields
// have already been reset).
func (t *Tree[V]) insert(key uint64, n *Node[V], uniqueOnly bool) *Node[V] {
	n.key = key
	n.seq = t.nextSeq
	t.nextSeq++
	n.left, n.right, n.parent = nil, nil, nil
	n.red = true

	if t.root == nil {
		n.red = false
		t.root = n
		t.size++
		return nil
	}

	cur := t.root
	var parent *Node[V]
	goLeft := false
	for cur != nil {
		parent = cur
		if uniqueOnly && cur.key == key {
			return cur
		}
		if cur.less(key, n.seq) {
			cur = cur.right
			goLeft = false
		} else {
			cur = cur.left
			goLeft = true
		}
	}
	n.parent = parent
	if goLeft {
		parent.left = n
	} else {
		parent.right = n
	}
	t.size++
	t.insertFixup(n)
	return nil
}

// InsertUnique inserts n under key, failing with ErrDuplicate if a node
// with that exact key is already present (the existing node is left
// untouched).
func (t *Tree[V]) InsertUnique(key uint64, n *Node[V]) error {
	if existing := t.insert(key, n, true); existing != nil {
		return ErrDuplicate
	}
	return nil
}

// InsertGeneric inserts n under key; when another node already carries the
// same key, n is ordered after it (insertion-order tiebreak), matching the
// cache's time index where ties are expected and meaningful.
func (t *Tree[V]) InsertGeneric(key uint64, n *Node[V]) {
	t.insert(key, n, false)
}

func (t *Tree[V]) insertFixup(z *Node[V]) {
	for z.parent != nil && z.parent.red {
		grandparent := z.parent.parent
		if grandparent == nil {
			break
		}
		if z.parent == grandparent.left {
			uncle := grandparent.right
			if uncle.IsRed() {
				z.parent.red = false
				uncle.red = false
				grandparent.red = true
				z = grandparent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.red = false
				grandparent.red = true
				t.rotateRight(grandparent)
			}
		} else {
			uncle := grandparent.left
			if uncle.IsRed() {
				z.parent.red = false
				uncle.red = false
				grandparent.red = true
				z = grandparent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.red = false
				grandparent.red = true
				t.rotateLeft(grandparent)
			}
		}
	}
	t.root.red = false
}

func (t *Tree[V]) minimum(n *Node[V]) *Node[V] {
	for n.left != nil {
		n = n.left
	}
	return n
}

func (t *Tree[V]) maximum(n *Node[V]) *Node[V] {
	for n.right != nil {
		n = n.right
	}
	return n
}

func (t *Tree[V]) transplant(u, v *Node[V]) {
	if u.parent == nil {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

// Extract removes n from the tree, rebalancing to preserve red-black
// invariants. n is left as a detached singleton (nil parent/children) so a
// subsequent IsMember(n) reports false.
func (t *Tree[V]) Extract(n *Node[V]) {
	if !t.IsMember(n) {
		return
	}
	y := n
	yOriginalRed := y.red
	var x, xParent *Node[V]

	if n.left == nil {
		x = n.right
		xParent = n.parent
		t.transplant(n, n.right)
	} else if n.right == nil {
		x = n.left
		xParent = n.parent
		t.transplant(n, n.left)
	} else {
		y = t.minimum(n.right)
		yOriginalRed = y.red
		x = y.right
		if y.parent == n {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = n.right
			y.right.parent = y
		}
		t.transplant(n, y)
		y.left = n.left
		y.left.parent = y
		y.red = n.red
	}

	if !yOriginalRed {
		t.deleteFixup(x, xParent)
	}

	n.left, n.right, n.parent = nil, nil, nil
	n.red = false
	t.size--
}

func (t *Tree[V]) deleteFixup(x, parent *Node[V]) {
	for x != t.root && x.isBlack() {
		if parent == nil {
			break
		}
		if x == parent.left {
			w := parent.right
			if w.IsRed() {
				w.red = false
				parent.red = true
				t.rotateLeft(parent)
				w = parent.right
			}
			if w == nil {
				x = parent
				parent = x.parent
				continue
			}
			if w.left.isBlack() && w.right.isBlack() {
				w.red = true
				x = parent
				parent = x.parent
			} else {
				if w.right.isBlack() {
					if w.left != nil {
						w.left.red = false
					}
					w.red = true
					t.rotateRight(w)
					w = parent.right
				}
				w.red = parent.red
				parent.red = false
				if w.right != nil {
					w.right.red = false
				}
				t.rotateLeft(parent)
				x = t.root
				parent = nil
			}
		} else {
			w := parent.left
			if w.IsRed() {
				w.red = false
				parent.red = true
				t.rotateRight(parent)
				w = parent.left
			}
			if w == nil {
				x = parent
				parent = x.parent
				continue
			}
			if w.right.isBlack() && w.left.isBlack() {
				w.red = true
				x = parent
				parent = x.parent
			} else {
				if w.left.isBlack() {
					if w.right != nil {
						w.right.red = false
					}
					w.red = true
					t.rotateLeft(w)
					w = parent.left
				}
				w.red = parent.red
				parent.red = false
				if w.left != nil {
					w.left.red = false
				}
				t.rotateRight(parent)
				x = t.root
				parent = nil
			}
		}
	}
	if x != nil {
		x.red = false
	}
}

// Min returns the node with the smallest key, or nil if the tree is empty.
func (t *Tree[V]) Min() *Node[V] {
	if t.root == nil {
		return nil
	}
	return t.minimum(t.root)
}

// Max returns the node with the largest key, or nil if the tree is empty.
func (t *Tree[V]) Max() *Node[V] {
	if t.root == nil {
		return nil
	}
	return t.maximum(t.root)
}

// Successor returns the in-order successor of n, or nil if n is the last
// node.
func (t *Tree[V]) Successor(n *Node[V]) *Node[V] {
	if n == nil {
		return nil
	}
	if n.right != nil {
		return t.minimum(n.right)
	}
	cur, parent := n, n.parent
	for parent != nil && cur == parent.right {
		cur = parent
		parent = parent.parent
	}
	return parent
}

// Predecessor returns the in-order predecessor of n, or nil if n is the
// first node.
func (t *Tree[V]) Predecessor(n *Node[V]) *Node[V] {
	if n == nil {
		return nil
	}
	if n.left != nil {
		return t.maximum(n.left)
	}
	cur, parent := n, n.parent
	for parent != nil && cur == parent.left {
		cur = parent
		parent = parent.parent
	}
	return parent
}

// IterGotoMin returns the node with the smallest key >= lowerBound, the
// starting point for an ascending iteration, or nil if none qualifies.
func (t *Tree[V]) IterGotoMin(lowerBound uint64) *Node[V] {
	var result *Node[V]
	cur := t.root
	for cur != nil {
		if cur.key >= lowerBound {
			result = cur
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return result
}

// IterGotoMax returns the node with the largest key <= upperBound, the
// starting point for a descending iteration, or nil if none qualifies.
func (t *Tree[V]) IterGotoMax(upperBound uint64) *Node[V] {
	var result *Node[V]
	cur := t.root
	for cur != nil {
		if cur.key <= upperBound {
			result = cur
			cur = cur.right
		} else {
			cur = cur.left
		}
	}
	return result
}

// BlackHeight walks from the root to a leaf counting black nodes, for test
// assertions that the tree's invariants hold after a sequence of
// insert/extract operations. Returns 0 for an empty tree.
func (t *Tree[V]) BlackHeight() int {
	height := 0
	for cur := t.root; cur != nil; cur = cur.left {
		if cur.isBlack() {
			height++
		}
	}
	return height
}

// CheckInvariants verifies no red node has a red child and every root-to-
// leaf path carries the same black-height; used only by tests.
func (t *Tree[V]) CheckInvariants() bool {
	_, ok := checkSubtree[V](t.root)
	return ok
}

func checkSubtree[V any](n *Node[V]) (blackHeight int, ok bool) {
	if n == nil {
		return 1, true
	}
	if n.red {
		if n.left.IsRed() || n.right.IsRed() {
			return 0, false
		}
	}
	lh, lok := checkSubtree[V](n.left)
	rh, rok := checkSubtree[V](n.right)
	if !lok || !rok || lh != rh {
		return 0, false
	}
	bh := lh
	if n.isBlack() {
		bh++
	}
	return bh, true
}
