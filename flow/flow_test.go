package flow

import (
	"testing"
	"time"

	"github.com/samsamfire/godtn/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sigFlowTestContent uint32 = 2000

func newTestPool(t *testing.T, capacity int) *pool.Pool {
	p := pool.NewPool(capacity, pool.Options{})
	p.RegisterType(sigFlowTestContent, pool.TagGeneric, func(p *pool.Pool, id pool.BlockID) {}, nil)
	return p
}

func alloc(t *testing.T, p *pool.Pool) pool.BlockID {
	id, err := p.Alloc(sigFlowTestContent, pool.ClassInternal)
	require.NoError(t, err)
	return id
}

func TestFlowFIFOOrder(t *testing.T) {
	p := newTestPool(t, 50)
	fl, err := New(p, 10, 10, nil, nil)
	require.NoError(t, err)

	var pushed []pool.BlockID
	for i := 0; i < 5; i++ {
		id := alloc(t, p)
		pushed = append(pushed, id)
		assert.True(t, fl.Ingress.Push(p, id, 0))
	}

	var pulled []pool.BlockID
	for {
		id, ok := fl.Ingress.Pull(p, 0)
		if !ok {
			break
		}
		pulled = append(pulled, id)
	}
	assert.Equal(t, pushed, pulled)
}

func TestFlowNonBlockingPeekFailsWhenFull(t *testing.T) {
	p := newTestPool(t, 20)
	fl, err := New(p, 1, 1, nil, nil)
	require.NoError(t, err)

	assert.True(t, fl.Egress.Push(p, alloc(t, p), 0))
	assert.False(t, fl.Egress.Push(p, alloc(t, p), 0), "second push at depth limit 1 must fail without blocking")
}

// TestFlowBackpressureUnblocksOnPull mirrors scenario 5: depth limit 1, a second push
// with a 100ms timeout blocks until a concurrent pull frees a slot, and
// completes true well within the deadline.
func TestFlowBackpressureUnblocksOnPull(t *testing.T) {
	p := newTestPool(t, 20)
	fl, err := New(p, 1, 1, nil, nil)
	require.NoError(t, err)

	require.True(t, fl.Egress.Push(p, alloc(t, p), 0))

	done := make(chan bool, 1)
	start := time.Now()
	go func() {
		done <- fl.Egress.Push(p, alloc(t, p), 100*time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	_, ok := fl.Egress.Pull(p, 0)
	require.True(t, ok)

	select {
	case result := <-done:
		assert.True(t, result)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("blocked push never returned")
	}
}

func TestFlowBackpressureTimesOutWithoutPull(t *testing.T) {
	p := newTestPool(t, 20)
	fl, err := New(p, 1, 1, nil, nil)
	require.NoError(t, err)

	require.True(t, fl.Egress.Push(p, alloc(t, p), 0))

	start := time.Now()
	ok := fl.Egress.Push(p, alloc(t, p), 60*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestFlowDownTransitionDropsQueues(t *testing.T) {
	p := newTestPool(t, 20)
	fl, err := New(p, 10, 10, nil, nil)
	require.NoError(t, err)

	fl.SetPending(FlagAdminUp | FlagOperUp)
	p.RunAllJobs(nil)
	assert.True(t, fl.Current().IsUp())

	require.True(t, fl.Ingress.Push(p, alloc(t, p), 0))
	assert.Equal(t, 1, fl.Ingress.Depth())

	fl.SetPending(FlagAdminUp) // oper-up cleared: down transition
	p.RunAllJobs(nil)
	assert.False(t, fl.Current().IsUp())
	assert.Equal(t, 0, fl.Ingress.Depth())
}
