package pool

// JobHandler is invoked by RunAllJobs for each active job. arg is whatever
// the caller passed into RunAllJobs, not stored per-job — the same
// top-level driver argument (e.g. the cache's current action-time) reaches
// every job in a tick.
type JobHandler func(p *Pool, id BlockID, arg any)

type jobContent struct {
	handler JobHandler
}

// registerJobType wires the job content-type signature into a pool. Called
// once from NewPool.
func registerJobType(p *Pool) {
	p.RegisterType(SignatureJob, TagJob, nil, nil)
}

// NewJob allocates a job block carrying handler. A job with a nil handler
// is legal to allocate but MarkActive will refuse to enqueue it (mirrors
// "mark_active atomically appends ... if handler is non-null").
func (p *Pool) NewJob(handler JobHandler) (BlockID, error) {
	id, err := p.Alloc(SignatureJob, ClassInternal)
	if err != nil {
		return InvalidBlockID, err
	}
	p.mu.Lock()
	p.slots[id].content = jobContent{handler: handler}
	p.mu.Unlock()
	return id, nil
}

// MarkActive appends id to the pool's active-jobs list if it is not
// already on it and its handler is non-nil. Safe to call from within a
// running job's own handler (e.g. to re-arm itself for next tick).
func (p *Pool) MarkActive(id BlockID) {
	p.mu.Lock()
	jc, ok := p.slots[id].content.(jobContent)
	alreadyActive := !p.slots[id].isSingleton(id)
	p.mu.Unlock()
	if !ok || jc.handler == nil || alreadyActive {
		return
	}
	p.active.PushBack(p, id)
}

// RunAllJobs walks the active-jobs list once, detaching each job from the
// list before invoking its handler (so the handler may re-mark itself
// active for the next tick without corrupting the traversal).
func (p *Pool) RunAllJobs(arg any) {
	// Stop after the job that was last when the pass began, so a job that
	// re-marks itself (and lands behind it) waits for the next pass.
	p.mu.Lock()
	last := p.slots[p.active.head].prev
	p.mu.Unlock()
	p.active.Walk(p, func(id BlockID) bool {
		p.mu.Lock()
		p.unlinkLocked(id)
		jc, ok := p.slots[id].content.(jobContent)
		p.mu.Unlock()
		if ok && jc.handler != nil {
			jc.handler(p, id, arg)
		}
		return id != last
	})
}
