package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sigGenericTest uint32 = 1000

type genericTestContent struct {
	value int
}

func newTestPool(capacity int) *Pool {
	p := NewPool(capacity, Options{})
	p.RegisterType(sigGenericTest, TagGeneric, func(p *Pool, id BlockID) {
		p.SetContent(id, &genericTestContent{})
	}, nil)
	return p
}

func TestPoolConservation(t *testing.T) {
	p := newTestPool(20)
	before := p.Stats()
	require.Equal(t, 0, before.InUse)

	var ids []BlockID
	for i := 0; i < 10; i++ {
		id, err := p.Alloc(sigGenericTest, ClassInternal)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	mid := p.Stats()
	assert.Equal(t, before.Free+before.Recycle, mid.Free+mid.Recycle+mid.InUse)
	assert.Equal(t, 10, mid.InUse)

	for _, id := range ids {
		p.Recycle(id)
	}
	p.CollectGarbage(len(ids))

	after := p.Stats()
	assert.Equal(t, before, after)
}

func TestAllocUnknownType(t *testing.T) {
	p := newTestPool(10)
	_, err := p.Alloc(0xdeadbeef, ClassInternal)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestAllocOutOfMemory(t *testing.T) {
	p := newTestPool(int(firstCarvableBlock) + 2)
	_, err1 := p.Alloc(sigGenericTest, ClassInternal)
	require.NoError(t, err1)
	_, err2 := p.Alloc(sigGenericTest, ClassInternal)
	require.NoError(t, err2)
	_, err3 := p.Alloc(sigGenericTest, ClassInternal)
	assert.ErrorIs(t, err3, ErrOutOfMemory)
}

func TestBblockThresholdBeforeInternal(t *testing.T) {
	// With free count exactly at bblockAllocThreshold, bundle-class
	// allocation is refused while internal-class allocation still
	// succeeds until internalAllocThreshold is reached.
	p := NewPool(int(firstCarvableBlock)+3, Options{BblockAllocThreshold: 2, InternalAllocThreshold: 0})
	p.RegisterType(sigGenericTest, TagGeneric, func(p *Pool, id BlockID) {}, nil)

	stats := p.Stats()
	require.Equal(t, 3, stats.Free)

	// Drain one block so free == bblockAllocThreshold (2).
	_, err := p.Alloc(sigGenericTest, ClassInternal)
	require.NoError(t, err)

	_, err = p.Alloc(sigGenericTest, ClassBundle)
	assert.ErrorIs(t, err, ErrOutOfMemory, "bundle alloc must be refused at the bblock threshold")

	_, err = p.Alloc(sigGenericTest, ClassInternal)
	assert.NoError(t, err, "internal alloc should still succeed above internalAllocThreshold")
}

func TestRefCountIntegrity(t *testing.T) {
	p := newTestPool(20)
	target, err := p.Alloc(sigGenericTest, ClassInternal)
	require.NoError(t, err)
	assert.EqualValues(t, 0, p.RefCount(target))

	ref1, err := p.MakeRef(target)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.RefCount(target))

	ref2, err := p.MakeRef(target)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.RefCount(target))

	p.Duplicate(target)
	assert.EqualValues(t, 3, p.RefCount(target))
	p.Release(target) // undo the bare Duplicate

	p.Recycle(ref1)
	p.CollectGarbage(1)
	assert.EqualValues(t, 1, p.RefCount(target))

	p.Recycle(ref2)
	p.CollectGarbage(1)
	assert.EqualValues(t, 0, p.RefCount(target))

	// Target reaches recycle only once refcount hits zero AND it is not
	// linked into a named list; it was never linked into one here, so a
	// final recycle+collect should return it to free.
	before := p.Stats()
	p.Recycle(target)
	p.CollectGarbage(1)
	after := p.Stats()
	assert.Equal(t, before.InUse-1, after.InUse)
}

func TestSubQueueFIFOOrder(t *testing.T) {
	p := newTestPool(50)
	var q SubQueue
	q.head = activeJobsHeadID // reuse a reserved, already-initialized sentinel for the test

	var pushed []BlockID
	for i := 0; i < 10; i++ {
		id, err := p.Alloc(sigGenericTest, ClassInternal)
		require.NoError(t, err)
		pushed = append(pushed, id)
		q.PushSingle(p, id)
	}

	var pulled []BlockID
	for {
		id, ok := q.PullSingle(p)
		if !ok {
			break
		}
		pulled = append(pulled, id)
	}
	assert.Equal(t, pushed, pulled)
}

func TestJobRunnerRunsEachOnce(t *testing.T) {
	p := newTestPool(20)
	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		id, err := p.NewJob(func(p *Pool, id BlockID, arg any) {
			ran = append(ran, i)
		})
		require.NoError(t, err)
		p.MarkActive(id)
	}
	p.RunAllJobs(nil)
	assert.Len(t, ran, 5)

	// A second RunAllJobs with nothing re-marked should be a no-op.
	ran = nil
	p.RunAllJobs(nil)
	assert.Empty(t, ran)
}

func TestJobCanReMarkItself(t *testing.T) {
	p := newTestPool(20)
	count := 0
	var id BlockID
	var err error
	id, err = p.NewJob(nil)
	require.NoError(t, err)
	handler := func(p *Pool, id BlockID, arg any) {
		count++
		if count < 3 {
			p.MarkActive(id)
		}
	}
	p.mu.Lock()
	p.slots[id].content = jobContent{handler: handler}
	p.mu.Unlock()

	p.MarkActive(id)
	p.RunAllJobs(nil)
	p.RunAllJobs(nil)
	p.RunAllJobs(nil)
	assert.Equal(t, 3, count)
}
