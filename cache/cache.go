package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samsamfire/godtn/bpv7"
	"github.com/samsamfire/godtn/pool"
	"github.com/samsamfire/godtn/pool/rbtree"
	"github.com/samsamfire/godtn/telemetry"
)

// Forwarder is the single egress path a cache pushes a newly-queued entry
// to, the moment that entry's idle->queue transition fires. Exactly one
// forwarder registers per cache: spec.md's "no dynamic routing" Non-goal
// means a static next-hop, not a routing table, so the cache never
// chooses between forwarders — it just hands the entry to the one CLA
// adapter attached to it.
type Forwarder interface {
	Forward(id pool.BlockID)
}

// OffloadModule is the storage-offload contract of §4.10. The cache calls
// only Restore (when an idle entry with a storage-id has no in-memory ref)
// and Release (when such an entry is deleted); it never calls Offload, and
// nothing in this package assigns an entry a storage-id.
type OffloadModule interface {
	Instantiate() error
	Configure(cfg map[string]string) error
	Query(storageID uint64) (bool, error)
	Start() error
	Stop() error
	Offload(storageID uint64, data []byte) error
	Restore(storageID uint64) ([]byte, error)
	Release(storageID uint64)
}

// Config holds the cache's timing and policy knobs, per §4.8's retry
// table and §4.9's custody-tracking defaults.
type Config struct {
	FastRetry    time.Duration
	IdleRetry    time.Duration
	AgeOut       time.Duration
	DefaultRetx  time.Duration
	SelfAddr     bpv7.EID
}

// Cache is the storage entry FSM and custody/DACS engine of §4.8-§4.10. A
// single Cache instance owns one pending list (entries attached but not
// yet idle-stable), one idle list, and the four secondary indices that
// let the custody engine and egress path find entries by key, by peer, by
// destination, or by action-time.
type Cache struct {
	p        *pool.Pool
	logger   *slog.Logger
	selfAddr bpv7.EID

	pendingList pool.List
	idleList    pool.List

	mu           sync.Mutex
	bundleIndex  *rbtree.Tree[*entryContent]
	dacsIndex    *rbtree.Tree[*entryContent]
	destEIDIndex *rbtree.Tree[*entryContent]
	timeIndex    *rbtree.Tree[*entryContent]

	actionTime uint64

	fastRetryMs   uint64
	idleRetryMs   uint64
	ageOutMs      uint64
	defaultRetxMs uint64

	offload   OffloadModule
	forwarder Forwarder
	metrics   *telemetry.Metrics

	enterCounts  [5]uint64
	exitCounts   [5]uint64
	discardCount uint64
}

// New creates a Cache rooted in p, allocating its own pending/idle list
// heads. registerEntryType must not have been called on p for a different
// cache already.
func New(p *pool.Pool, cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = p.Logger()
	}
	registerEntryType(p)
	registerPrimaryType(p)

	pendingHead, err := p.NewListHead()
	if err != nil {
		return nil, err
	}
	idleHead, err := p.NewListHead()
	if err != nil {
		return nil, err
	}

	c := &Cache{
		p:            p,
		logger:       logger,
		selfAddr:     cfg.SelfAddr,
		pendingList:  pool.NewListAt(pendingHead),
		idleList:     pool.NewListAt(idleHead),
		bundleIndex:  rbtree.New[*entryContent](),
		dacsIndex:    rbtree.New[*entryContent](),
		destEIDIndex: rbtree.New[*entryContent](),
		timeIndex:    rbtree.New[*entryContent](),

		fastRetryMs:   durationMs(cfg.FastRetry, 500),
		idleRetryMs:   durationMs(cfg.IdleRetry, 5000),
		ageOutMs:      durationMs(cfg.AgeOut, 60000),
		defaultRetxMs: durationMs(cfg.DefaultRetx, 10000),
	}
	return c, nil
}

func durationMs(d time.Duration, defaultMs uint64) uint64 {
	if d <= 0 {
		return defaultMs
	}
	return uint64(d.Milliseconds())
}

// SetOffload registers the module the cache restores offloaded bundles
// from and releases their storage through (see OffloadModule). The cache
// does not offload bundles into it itself. It may be called at any time;
// it affects only restores and releases made afterwards.
func (c *Cache) SetOffload(m OffloadModule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offload = m
}

// SetForwarder registers the CLA adapter a newly-queued entry is handed
// to. See Forwarder.
func (c *Cache) SetForwarder(f Forwarder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwarder = f
}

// SelfAddr returns the node's own address, for callers (e.g. cmd/bpsock)
// that need to tell a delivered bundle apart from one merely passing
// through.
func (c *Cache) SelfAddr() bpv7.EID {
	return c.selfAddr
}

// ReplayForDestination scans destEIDIndex for entries addressed to
// destNode and forces each back onto the next Tick's evaluation (via
// forceImminent; nothing is pushed onto a flow's ingress). An idle entry
// that was stuck waiting on
// its destination's interface gets another eval pass the instant that
// interface comes back up, instead of waiting out the idle retry cadence.
func (c *Cache) ReplayForDestination(destNode uint64, nowMs uint64) {
	c.mu.Lock()
	var entries []*entryContent
	for n := c.destEIDIndex.IterGotoMin(destNode); n != nil && n.Key() == destNode; n = c.destEIDIndex.Successor(n) {
		entries = append(entries, n.Value)
	}
	c.mu.Unlock()
	for _, ec := range entries {
		c.forceImminent(ec, nowMs)
	}
}

// RunDriver starts a goroutine that runs the pool's job runner and the
// cache's Tick once per interval; Tick walks the time index only, not
// the pending list. The returned stop func cancels the goroutine and
// blocks until it has exited.
func (c *Cache) RunDriver(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := uint64(time.Now().UnixMilli())
				c.p.RunAllJobs(now)
				c.Tick(now)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// SetMetrics registers the Prometheus counter set state transitions and
// discards are reported against. Safe to leave unset; every increment
// call tolerates a nil *telemetry.Metrics.
func (c *Cache) SetMetrics(m *telemetry.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// DebugScan logs the per-state enter/exit counters and discard count,
// matching bplib_cache_fsm.c's debug counters and spec.md §4.10's
// "Debug-scan prints counters and state of every cache under an
// interface."
func (c *Cache) DebugScan() {
	st := c.Stats()
	c.logger.Info("cache debug scan",
		"enter_idle", st.Enter[StateIdle], "enter_queue", st.Enter[StateQueue],
		"enter_delete", st.Enter[StateDelete], "enter_generate_dacs", st.Enter[StateGenerateDACS],
		"exit_idle", st.Exit[StateIdle], "exit_queue", st.Exit[StateQueue],
		"exit_delete", st.Exit[StateDelete], "exit_generate_dacs", st.Exit[StateGenerateDACS],
		"discards", st.Discards,
	)
}

// Stats reports per-state enter/exit counts and the discard total, for
// the debug-scan surface of §4.8.
type Stats struct {
	Enter    [5]uint64
	Exit     [5]uint64
	Discards uint64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Enter: c.enterCounts, Exit: c.exitCounts, Discards: c.discardCount}
}

// registerPrimaryType wires the decoded-bundle content type into the
// pool. A *bpv7.Bundle holds no block references of its own, so no
// destructor is needed beyond the pool's default content clear.
func registerPrimaryType(p *pool.Pool) {
	p.RegisterType(pool.SignaturePrimary, pool.TagPrimary, nil, nil)
}

// EntryWire re-encodes an admitted entry's stored bundle back to wire
// bytes, for a CLA egress path that pulled the entry's BlockID off a
// flow's egress duct.
func (c *Cache) EntryWire(ec *entryContent) ([]byte, error) {
	b, ok := c.p.Content(ec.primaryRef).(*bpv7.Bundle)
	if !ok || b == nil {
		return nil, ErrNotAttached
	}
	return bpv7.Encode(b)
}

// MarkEgressComplete clears FlagLocallyQueued once a CLA has finished
// transmitting an entry, letting the next Tick's evalQueue pass route it
// back to idle and run exitQueue's custody bookkeeping.
func (c *Cache) MarkEgressComplete(ec *entryContent) {
	ec.flags &^= FlagLocallyQueued
	c.forceImminent(ec, c.actionTime)
}

// Entry looks up the entry content behind id, for a CLA egress path that
// pulled id off a flow's egress duct.
func (c *Cache) Entry(id pool.BlockID) (*entryContent, bool) {
	ec, ok := c.p.Content(id).(*entryContent)
	return ec, ok && ec != nil
}

// decodeAndRef decodes a wire bundle's primary block and wraps it in a
// pool primary-block slot, returning a ref BlockID. Used both by Admit
// and by restoreFromOffload.
func (c *Cache) decodeAndRef(wire []byte) (pool.BlockID, error) {
	b, err := bpv7.Decode(wire)
	if err != nil {
		return pool.InvalidBlockID, err
	}
	id, err := c.p.Alloc(pool.SignaturePrimary, pool.ClassBundle)
	if err != nil {
		return pool.InvalidBlockID, err
	}
	c.p.SetContent(id, b)
	return id, nil
}
