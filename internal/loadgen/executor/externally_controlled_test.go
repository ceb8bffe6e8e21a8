package executor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/executor"
)

func initExternal(t *testing.T, vus, max int, duration time.Duration) *executor.ExternallyControlled {
	t.Helper()
	e := executor.NewExternallyControlled()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Name:     "s1",
		Type:     executor.TypeExternallyControlled,
		VUs:      vus,
		MaxVUs:   max,
		Duration: duration,
	}))
	return e
}

// concurrencyTracker is an iteration function that records how many
// iterations overlap and whether any was cancelled mid-flight.
type concurrencyTracker struct {
	current     atomic.Int64
	peak        atomic.Int64
	interrupted atomic.Int64
	completed   atomic.Int64
	sleep       time.Duration
}

func (p *concurrencyTracker) iterate(ctx context.Context, it *loadgen.Iteration) error {
	n := p.current.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(p.sleep)
	if ctx.Err() != nil {
		p.interrupted.Add(1)
	}

	p.current.Add(-1)
	p.completed.Add(1)
	it.Check("status was 200", true)
	return nil
}

func TestExternallyControlled_Init(t *testing.T) {
	e := executor.NewExternallyControlled()
	assert.Equal(t, executor.TypeExternallyControlled, e.Type())

	cfg := &executor.Config{Type: executor.TypeExternallyControlled, VUs: 10, Duration: time.Minute}
	require.NoError(t, e.Init(context.Background(), cfg))
	assert.Equal(t, 10, cfg.MaxVUs)
	assert.Equal(t, 10, e.GetTargetVUs())

	bad := &executor.Config{Type: executor.TypeExternallyControlled, VUs: 11, MaxVUs: 10, Duration: time.Minute}
	assert.Error(t, executor.NewExternallyControlled().Init(context.Background(), bad))

	wrong := &executor.Config{Type: executor.TypeConstantArrivalRate, Rate: 1, MaxVUs: 1, Duration: time.Minute}
	assert.Error(t, executor.NewExternallyControlled().Init(context.Background(), wrong))
}

func TestExternallyControlled_RunsForDuration(t *testing.T) {
	e := initExternal(t, 4, 10, 300*time.Millisecond)
	pool := newTestPool(t, "s1", 4, 10)
	tracker := &concurrencyTracker{sleep: 10 * time.Millisecond}

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), pool, tracker.iterate))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	assert.Equal(t, executor.StateStopped, e.GetState())
	assert.LessOrEqual(t, tracker.peak.Load(), int64(4))
	assert.Equal(t, int64(0), tracker.interrupted.Load())

	stats := e.GetStats()
	assert.Equal(t, stats.IterationsStarted, tracker.completed.Load())
	assert.Equal(t, stats.IterationsStarted, stats.Iterations)
	assert.Greater(t, stats.Iterations, int64(4))
	assert.Greater(t, stats.ActualRate, 0.0)
	assert.Equal(t, 0, e.GetActiveVUs())

	_, tally := pool.Collect()
	assert.Equal(t, stats.Iterations, tally.Get("status was 200").Passes)
}

func TestExternallyControlled_ScaleDownTenToThree(t *testing.T) {
	e := initExternal(t, 10, 50, 10*time.Second)
	pool := newTestPool(t, "s1", 10, 50)
	tracker := &concurrencyTracker{sleep: 20 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), pool, tracker.iterate) }()

	require.Eventually(t, func() bool { return e.GetActiveVUs() == 10 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.SetVUs(3))
	assert.Equal(t, 3, e.GetTargetVUs())

	require.Eventually(t, func() bool { return e.GetActiveVUs() == 3 }, 2*time.Second, 5*time.Millisecond)

	// Once the excess loops have left, no more than 3 iterations overlap.
	time.Sleep(50 * time.Millisecond)
	tracker.peak.Store(0)
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, tracker.peak.Load(), int64(3))
	assert.Equal(t, 3, e.GetActiveVUs())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))
	require.NoError(t, <-done)

	assert.Equal(t, int64(0), tracker.interrupted.Load())
	assert.Equal(t, e.GetStats().IterationsStarted, tracker.completed.Load())
}

func TestExternallyControlled_ScaleUp(t *testing.T) {
	e := initExternal(t, 2, 8, 10*time.Second)
	pool := newTestPool(t, "s1", 2, 8)
	tracker := &concurrencyTracker{sleep: 10 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), pool, tracker.iterate) }()

	require.Eventually(t, func() bool { return e.GetActiveVUs() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.SetVUs(8))
	require.Eventually(t, func() bool { return e.GetActiveVUs() == 8 }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, pool.Allocated(), 8)

	require.NoError(t, e.SetVUs(0))
	require.Eventually(t, func() bool { return e.GetActiveVUs() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, <-done)
}

func TestExternallyControlled_SetVUsBounds(t *testing.T) {
	e := initExternal(t, 1, 5, 10*time.Second)
	pool := newTestPool(t, "s1", 1, 5)

	// before Run the value becomes the initial target
	require.NoError(t, e.SetVUs(2))
	assert.Equal(t, 2, e.GetTargetVUs())

	assert.ErrorIs(t, e.SetVUs(-1), executor.ErrInvalidVUs)
	assert.ErrorIs(t, e.SetVUs(6), executor.ErrInvalidVUs)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), pool, succeed) }()
	require.Eventually(t, func() bool { return e.GetActiveVUs() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, <-done)

	assert.ErrorIs(t, e.SetVUs(1), executor.ErrNotRunning)
}

func TestExternallyControlled_VUCreationFailureIsFatal(t *testing.T) {
	e := initExternal(t, 3, 3, 10*time.Second)
	pool, err := loadgen.NewPool(loadgen.PoolConfig{
		Name: "s1",
		Max:  3,
		NewVU: func(int) (*loadgen.VirtualUser, error) {
			return nil, errors.New("cannot dial")
		},
	})
	require.NoError(t, err)

	start := time.Now()
	err = e.Run(context.Background(), pool, succeed)
	require.Error(t, err)
	assert.ErrorIs(t, err, loadgen.ErrExecutorFatal)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExternallyControlled_StopBeforeRun(t *testing.T) {
	e := initExternal(t, 1, 1, time.Minute)
	require.NoError(t, e.Stop(context.Background()))

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), newTestPool(t, "s1", 1, 1), succeed))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFactory(t *testing.T) {
	for _, typ := range executor.ListExecutorTypes() {
		e, err := executor.NewExecutor(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, e.Type())
		assert.NotEqual(t, "Unknown executor type", executor.GetExecutorDescription(typ))
	}

	_, err := executor.NewExecutor("shared-iterations")
	assert.Error(t, err)
	assert.Equal(t, "Unknown executor type", executor.GetExecutorDescription("shared-iterations"))
}
