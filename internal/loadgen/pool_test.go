package loadgen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_PreAllocates(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "s1", PreAllocated: 5, Max: 10})
	require.NoError(t, err)

	assert.Equal(t, 5, pool.Allocated())
	assert.Equal(t, 0, pool.Busy())
	assert.Equal(t, 10, pool.Max())
	assert.Equal(t, "s1", pool.Name())

	for i, vu := range pool.VUs() {
		assert.Equal(t, i+1, vu.ID)
		assert.Equal(t, VUStateIdle, vu.GetState())
	}
}

func TestNewPool_InvalidConfig(t *testing.T) {
	_, err := NewPool(PoolConfig{Name: "s1", PreAllocated: 11, Max: 10})
	assert.ErrorIs(t, err, ErrConfigInvalid)

	_, err = NewPool(PoolConfig{Name: "s1", Max: 0})
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestNewPool_FactoryFailureIsFatal(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewPool(PoolConfig{
		Name:         "s1",
		PreAllocated: 2,
		Max:          2,
		NewVU:        func(int) (*VirtualUser, error) { return nil, boom },
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutorFatal)
	assert.ErrorIs(t, err, boom)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "s1", fatal.Scenario)
}

func TestPool_AcquireGrowsThenExhausts(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "s1", PreAllocated: 1, Max: 3})
	require.NoError(t, err)

	var vus []*VirtualUser
	for i := 0; i < 3; i++ {
		vu, err := pool.Acquire()
		require.NoError(t, err)
		assert.Equal(t, VUStateBusy, vu.GetState())
		assert.False(t, vu.LastUsed().IsZero())
		vus = append(vus, vu)
	}
	assert.Equal(t, 3, pool.Allocated())

	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	pool.Release(vus[1])
	vu, err := pool.Acquire()
	require.NoError(t, err)
	assert.Same(t, vus[1], vu)
	assert.Equal(t, 3, pool.Peak())
}

func TestPool_AcquireFactoryFailureIsFatal(t *testing.T) {
	calls := 0
	pool, err := NewPool(PoolConfig{
		Name:         "s1",
		PreAllocated: 1,
		Max:          5,
		NewVU: func(id int) (*VirtualUser, error) {
			calls++
			if calls > 1 {
				return nil, errors.New("no more sockets")
			}
			return NewVirtualUser(id, nil), nil
		},
	})
	require.NoError(t, err)

	_, err = pool.Acquire()
	require.NoError(t, err)

	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrExecutorFatal)
	assert.NotErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_ReleaseIsIdempotentAndIgnoresForeignVUs(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "a", PreAllocated: 1, Max: 1})
	require.NoError(t, err)
	other, err := NewPool(PoolConfig{Name: "b", PreAllocated: 1, Max: 1})
	require.NoError(t, err)

	vu, err := pool.Acquire()
	require.NoError(t, err)

	foreign, err := other.Acquire()
	require.NoError(t, err)
	pool.Release(foreign)
	pool.Release(nil)
	assert.Equal(t, 1, pool.Busy())

	pool.Release(vu)
	pool.Release(vu)
	assert.Equal(t, 0, pool.Busy())

	// A double release must not put the VU in the idle list twice.
	first, err := pool.Acquire()
	require.NoError(t, err)
	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrPoolExhausted)
	pool.Release(first)
}

func TestPool_ConcurrentNeverExceedsMaxNorDoubleHandsOut(t *testing.T) {
	const maxVUs = 8
	pool, err := NewPool(PoolConfig{Name: "s1", PreAllocated: 2, Max: maxVUs})
	require.NoError(t, err)

	var (
		inUse     sync.Map
		doubles   atomic.Int64
		exhausted atomic.Int64
		wg        sync.WaitGroup
	)
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				vu, err := pool.Acquire()
				if errors.Is(err, ErrPoolExhausted) {
					exhausted.Add(1)
					continue
				}
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if _, loaded := inUse.LoadOrStore(vu, true); loaded {
					doubles.Add(1)
				}
				time.Sleep(10 * time.Microsecond)
				inUse.Delete(vu)
				pool.Release(vu)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), doubles.Load())
	assert.LessOrEqual(t, pool.Allocated(), maxVUs)
	assert.LessOrEqual(t, pool.Peak(), maxVUs)
	assert.Equal(t, 0, pool.Busy())
}

func TestPool_AcquireContextWaitsForRelease(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "s1", PreAllocated: 1, Max: 1})
	require.NoError(t, err)

	held, err := pool.Acquire()
	require.NoError(t, err)

	got := make(chan *VirtualUser, 1)
	go func() {
		vu, err := pool.AcquireContext(context.Background())
		if err == nil {
			got <- vu
		}
	}()

	select {
	case <-got:
		t.Fatal("AcquireContext returned while the pool was exhausted")
	case <-time.After(30 * time.Millisecond):
	}

	pool.Release(held)
	select {
	case vu := <-got:
		assert.Same(t, held, vu)
	case <-time.After(time.Second):
		t.Fatal("AcquireContext did not wake up after Release")
	}
}

func TestPool_AcquireContextCancelled(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "s1", PreAllocated: 1, Max: 1})
	require.NoError(t, err)
	_, err = pool.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.AcquireContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_Collect(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "s1", PreAllocated: 2, Max: 2})
	require.NoError(t, err)

	for _, vu := range pool.VUs() {
		vu.Metrics.Record("iteration_duration", 10)
		vu.Metrics.Add("iterations", 1)
		vu.Checks.Check("status was 200", true)
	}

	reg, tally := pool.Collect()
	assert.Equal(t, 2.0, reg.Counter("iterations"))
	assert.Equal(t, int64(2), reg.Trend("iteration_duration").Count())
	assert.Equal(t, int64(2), tally.Get("status was 200").Passes)

	pool.Close()
}
