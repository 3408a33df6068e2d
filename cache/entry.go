package cache

import (
	"github.com/samsamfire/godtn/bpv7"
	"github.com/samsamfire/godtn/pool"
	"github.com/samsamfire/godtn/pool/rbtree"
)

// entryContent is a storage entry's content, held in a pool.TagEntry
// block. It carries the FSM state, the bundle's identity (so the entry
// survives the primary ref being dropped on offload), and the four
// index-node pointers it may simultaneously participate in.
type entryContent struct {
	cache  *Cache
	selfID pool.BlockID

	state State
	flags Flags

	key            BundleKey
	deliveryPolicy DeliveryPolicy
	destNode       uint64

	expireAtMs   uint64
	actionTimeMs uint64
	localRetxMs  uint64

	primaryRef       pool.BlockID
	offloadStorageID uint64

	// generate-dacs aggregation state; zero for ordinary entries.
	dacsFlowSource bpv7.EID
	dacsSeqs       []uint64

	bundleIndexNode  *rbtree.Node[*entryContent]
	dacsIndexNode    *rbtree.Node[*entryContent]
	destEIDIndexNode *rbtree.Node[*entryContent]
	timeIndexNode    *rbtree.Node[*entryContent]
}

// ID returns the pool block backing this entry, for callers (CLA
// adapters) that need to push it onto a flow duct.
func (ec *entryContent) ID() pool.BlockID { return ec.selfID }

func registerEntryType(p *pool.Pool) {
	p.RegisterType(pool.SignatureEntry, pool.TagEntry, nil, entryDestructor)
}

// entryDestructor extracts the entry from every index it still
// participates in, per §4.1's "destructors for entries extract the
// entry from every index" rule. The time index is always already
// extracted by the driver before an entry reaches recycle; the others
// are cleaned up here.
func entryDestructor(p *pool.Pool, id pool.BlockID) {
	ec, ok := p.Content(id).(*entryContent)
	if !ok || ec == nil {
		return
	}
	if ec.primaryRef != pool.InvalidBlockID {
		p.Release(ec.primaryRef)
		ec.primaryRef = pool.InvalidBlockID
	}
	if ec.offloadStorageID != 0 && ec.cache.offload != nil {
		ec.cache.offload.Release(ec.offloadStorageID)
		ec.offloadStorageID = 0
	}
	ec.cache.removeFromAllIndices(ec)
}
