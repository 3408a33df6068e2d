// Package flow implements the ingress/egress duct pair described in §3
// ("Flow (duct)") and §4.5: two pool sub-queues guarded by depth limits,
// a pending/current state-flag pair, and a state-change job that the
// pool's job runner drives.
package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samsamfire/godtn/pool"
)

// StateFlags are the flow up/down state bits from §3.
type StateFlags uint8

const (
	FlagAdminUp StateFlags = 1 << iota
	FlagOperUp
	FlagStorage
	FlagEndpoint
	FlagPoll
)

// IsUp reports whether both admin-up and oper-up are set — a flow is
// "up" only when both hold.
func (f StateFlags) IsUp() bool {
	return f&(FlagAdminUp|FlagOperUp) == FlagAdminUp|FlagOperUp
}

// PollNotifier receives flow life-cycle notifications from the
// state-change job: a poll event when a flow's poll bit is set at the
// moment the job runs, and an up notification exactly on a down->up
// admin/oper transition so the owner can replay its dest_eid_index for
// the now-reachable peer per spec.md's "up" event.
type PollNotifier interface {
	NotifyPoll(fl *Flow)
	NotifyUp(fl *Flow)
}

// duct is one direction's work queue: a pool sub-queue plus a depth
// limit and the condition variable blocking push/pull wait on. timeout
// here plays the role of the source's abs_timeout, expressed as a
// duration from the call rather than an absolute monotonic instant.
type duct struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue pool.SubQueue
	limit int
}

func newDuct(head pool.BlockID, limit int) *duct {
	d := &duct{queue: pool.NewSubQueueAt(head), limit: limit}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Push appends id to the duct's queue. With timeout == 0 this is a
// non-blocking peek: it fails immediately if the queue is at its depth
// limit. With timeout > 0 it blocks, rechecking on every wake, until
// space frees up or the deadline passes.
func (d *duct) Push(p *pool.Pool, id pool.BlockID, timeout time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline, hasDeadline := deadlineFor(timeout)
	for d.queue.Depth() >= d.limit {
		if !hasDeadline {
			return false
		}
		if !d.waitUntil(deadline) {
			return false
		}
	}
	d.queue.PushSingle(p, id)
	d.cond.Broadcast()
	return true
}

// Pull removes and returns the head of the duct's queue, blocking on the
// same terms as Push when the queue is empty.
func (d *duct) Pull(p *pool.Pool, timeout time.Duration) (pool.BlockID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline, hasDeadline := deadlineFor(timeout)
	for d.queue.Depth() == 0 {
		if !hasDeadline {
			return pool.InvalidBlockID, false
		}
		if !d.waitUntil(deadline) {
			return pool.InvalidBlockID, false
		}
	}
	id, ok := d.queue.PullSingle(p)
	if ok {
		d.cond.Broadcast()
	}
	return id, ok
}

// Depth reports the duct's current queue depth without blocking.
func (d *duct) Depth() int { return d.queue.Depth() }

func deadlineFor(timeout time.Duration) (time.Time, bool) {
	if timeout <= 0 {
		return time.Time{}, false
	}
	return time.Now().Add(timeout), true
}

// waitUntil parks on the duct's condition until broadcast or deadline.
// Caller holds d.mu. Returns false once the deadline has passed.
func (d *duct) waitUntil(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer timer.Stop()
	d.cond.Wait()
	return time.Now().Before(deadline)
}

// dropAll drains the duct, releasing every queued reference, and wakes
// any blocked waiters so they observe an empty queue rather than hanging
// past an admin-down transition.
func (d *duct) dropAll(p *pool.Pool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		id, ok := d.queue.PullSingle(p)
		if !ok {
			break
		}
		p.Release(id)
	}
	d.cond.Broadcast()
}

// Flow is a named ingress/egress duct pair owned by one interface or
// service.
type Flow struct {
	p      *pool.Pool
	logger *slog.Logger

	Ingress *duct
	Egress  *duct

	mu           sync.Mutex
	pendingFlags StateFlags
	currentFlags StateFlags
	stateJob     pool.BlockID
	notifier     PollNotifier
}

// New allocates the two list-head blocks a flow's ducts need and
// registers its state-change job with p's job runner.
func New(p *pool.Pool, ingressLimit, egressLimit int, notifier PollNotifier, logger *slog.Logger) (*Flow, error) {
	if logger == nil {
		logger = p.Logger()
	}
	ingressHead, err := p.NewListHead()
	if err != nil {
		return nil, err
	}
	egressHead, err := p.NewListHead()
	if err != nil {
		return nil, err
	}

	fl := &Flow{
		p:        p,
		logger:   logger,
		Ingress:  newDuct(ingressHead, ingressLimit),
		Egress:   newDuct(egressHead, egressLimit),
		notifier: notifier,
	}
	jobID, err := p.NewJob(fl.stateChangeHandler)
	if err != nil {
		return nil, err
	}
	fl.stateJob = jobID
	return fl, nil
}

// SetPending replaces the flow's pending state flags and marks its
// state-change job active; the change takes effect the next time the
// job runner runs.
func (fl *Flow) SetPending(flags StateFlags) {
	fl.mu.Lock()
	fl.pendingFlags = flags
	fl.mu.Unlock()
	fl.p.MarkActive(fl.stateJob)
}

// SetNotifier registers the flow's life-cycle notifier. Exists as a
// separate setter (rather than only a New argument) because a CLA adapter
// typically needs its Flow constructed first and registers itself as the
// notifier afterward.
func (fl *Flow) SetNotifier(n PollNotifier) {
	fl.mu.Lock()
	fl.notifier = n
	fl.mu.Unlock()
}

// Current returns the flow's currently-applied state flags.
func (fl *Flow) Current() StateFlags {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.currentFlags
}

// stateChangeHandler copies pending to current; on a down transition it
// drops both ducts, waking any blocked pushers/pullers; on an up
// transition it notifies the owner via NotifyUp; if the poll bit is set,
// it notifies the owner via NotifyPoll.
func (fl *Flow) stateChangeHandler(p *pool.Pool, id pool.BlockID, arg any) {
	fl.mu.Lock()
	wasUp := fl.currentFlags.IsUp()
	fl.currentFlags = fl.pendingFlags
	nowUp := fl.currentFlags.IsUp()
	poll := fl.currentFlags&FlagPoll != 0
	notifier := fl.notifier
	fl.mu.Unlock()

	if wasUp && !nowUp {
		fl.logger.Info("flow: admin/oper down, dropping queued work", "ingress_depth", fl.Ingress.Depth(), "egress_depth", fl.Egress.Depth())
		fl.Ingress.dropAll(p)
		fl.Egress.dropAll(p)
	}
	if !wasUp && nowUp && notifier != nil {
		notifier.NotifyUp(fl)
	}
	if poll && notifier != nil {
		notifier.NotifyPoll(fl)
	}
}
