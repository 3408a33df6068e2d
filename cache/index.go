package cache

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/samsamfire/godtn/pool/rbtree"
)

// bundleIndexKey hashes the (source-node, source-service, sequence)
// triple into the uint64 rbtree key for the bundle index and the
// correlating lookup the DACS engine does against it. Collisions are
// resolved by the tree's insertion-order tiebreak plus an exact-match
// walk in findBundleEntry, so a hash collision only costs an extra
// comparison, never a false dedupe.
func bundleIndexKey(sourceNode, sourceService, seq uint64) uint64 {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], sourceNode)
	binary.BigEndian.PutUint64(buf[8:16], sourceService)
	binary.BigEndian.PutUint64(buf[16:24], seq)
	return xxhash.Checksum64(buf[:])
}

func (c *Cache) insertBundleIndex(ec *entryContent) {
	node := &rbtree.Node[*entryContent]{Value: ec}
	c.bundleIndex.InsertGeneric(bundleIndexKey(ec.key.SourceNode, ec.key.SourceService, ec.key.SequenceNum), node)
	ec.bundleIndexNode = node
}

// findBundleEntry looks up the exact (source, seq) triple, walking past
// any hash collisions at the same key.
func (c *Cache) findBundleEntry(sourceNode, sourceService, seq uint64) *entryContent {
	key := bundleIndexKey(sourceNode, sourceService, seq)
	for n := c.bundleIndex.IterGotoMin(key); n != nil && n.Key() == key; n = c.bundleIndex.Successor(n) {
		ec := n.Value
		if ec.key.SourceNode == sourceNode && ec.key.SourceService == sourceService && ec.key.SequenceNum == seq {
			return ec
		}
	}
	return nil
}

// insertDACSIndex keys ec by the peer node its aggregated DACS is
// addressed to.
func (c *Cache) insertDACSIndex(ec *entryContent, peerNode uint64) {
	node := &rbtree.Node[*entryContent]{Value: ec}
	c.dacsIndex.InsertGeneric(peerNode, node)
	ec.dacsIndexNode = node
}

func (c *Cache) insertDestEIDIndex(ec *entryContent) {
	node := &rbtree.Node[*entryContent]{Value: ec}
	c.destEIDIndex.InsertGeneric(ec.destNode, node)
	ec.destEIDIndexNode = node
}

// findDACSEntry returns the in-progress generate-dacs entry addressed to
// peerNode, if any.
func (c *Cache) findDACSEntry(peerNode uint64) *entryContent {
	for n := c.dacsIndex.IterGotoMin(peerNode); n != nil && n.Key() == peerNode; n = c.dacsIndex.Successor(n) {
		return n.Value
	}
	return nil
}

// removeFromAllIndices extracts ec from every index it currently
// participates in. Safe to call more than once; already-nil node
// pointers are skipped.
func (c *Cache) removeFromAllIndices(ec *entryContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ec.bundleIndexNode != nil {
		c.bundleIndex.Extract(ec.bundleIndexNode)
		ec.bundleIndexNode = nil
	}
	if ec.dacsIndexNode != nil {
		c.dacsIndex.Extract(ec.dacsIndexNode)
		ec.dacsIndexNode = nil
	}
	if ec.destEIDIndexNode != nil {
		c.destEIDIndex.Extract(ec.destEIDIndexNode)
		ec.destEIDIndexNode = nil
	}
	if ec.timeIndexNode != nil {
		c.timeIndex.Extract(ec.timeIndexNode)
		ec.timeIndexNode = nil
	}
}
