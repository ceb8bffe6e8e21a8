package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/rate"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Iteration starts are independent of how long each iteration takes. Tick n
// is due at start + n*timeUnit/rate; each due tick tries to acquire a VU
// without blocking. When the pool is exhausted the tick is dropped and
// counted, so a slow target never back-pressures the schedule.
//
// Example:
//
//	config:
//	  executor: constant-arrival-rate
//	  rate: 100              # 100 iterations
//	  timeUnit: 1s           # per second
//	  duration: 5m
//	  preAllocatedVUs: 10    # Start with 10 VUs
//	  maxVUs: 50             # Grow up to 50 VUs if needed
type ConstantArrivalRate struct {
	config   *Config
	pool     *loadgen.Pool
	schedule *rate.Schedule
	runner   *iterationRunner

	state   atomic.Int32
	ticks   atomic.Int64
	started atomic.Int64
	dropped atomic.Int64
	late    atomic.Int64

	// Cancellation
	cancelMu      sync.Mutex // Protects cancelFunc and stopRequested
	cancelFunc    context.CancelFunc
	stopRequested bool
	wg            sync.WaitGroup
	done          chan struct{}

	// Protects schedule, pool, runner, startTime and scheduleEnd for readers
	mu          sync.RWMutex
	startTime   time.Time
	scheduleEnd time.Time
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run schedules ticks until the duration has elapsed or ctx is cancelled,
// then waits for in-flight iterations.
func (e *ConstantArrivalRate) Run(ctx context.Context, pool *loadgen.Pool, fn loadgen.IterationFunc) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.New("executor already started")
	}
	defer close(e.done)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	if e.stopRequested {
		cancel()
	}
	e.cancelMu.Unlock()
	defer cancel()

	schedule := rate.NewSchedule(e.config.Rate, e.config.TimeUnit, e.config.Duration)
	start := time.Now()
	schedule.Start(start)

	e.mu.Lock()
	e.schedule = schedule
	e.pool = pool
	e.runner = newIterationRunner(e.config, pool, fn)
	e.startTime = start
	e.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"scenario": e.config.Name, "executor": TypeConstantArrivalRate})
	log.WithFields(logrus.Fields{
		"rate":     e.config.Rate,
		"interval": schedule.Interval(),
		"ticks":    schedule.Ticks(),
	}).Debug("scheduling iterations")

	fatal := e.scheduleTicks(runCtx)

	e.mu.Lock()
	e.scheduleEnd = time.Now()
	e.mu.Unlock()
	e.state.Store(int32(StateDraining))

	e.wg.Wait()
	e.state.Store(int32(StateStopped))

	if fatal != nil {
		log.WithError(fatal).Error("scenario aborted")
		var fe *loadgen.FatalError
		if !errors.As(fatal, &fe) {
			fatal = &loadgen.FatalError{Scenario: e.config.Name, Err: fatal}
		}
		return fatal
	}
	return nil
}

// scheduleTicks dispatches every tick of the schedule. Overdue ticks are
// still attempted one by one.
func (e *ConstantArrivalRate) scheduleTicks(ctx context.Context) error {
	for n := int64(0); !e.schedule.Done(n); n++ {
		if err := e.schedule.Wait(ctx, n); err != nil {
			return nil
		}

		late := e.schedule.Late(n, time.Now())

		// A tick is only counted once it was either started or dropped.
		vu, err := e.pool.Acquire()
		if err != nil && !errors.Is(err, loadgen.ErrPoolExhausted) {
			return err
		}
		e.ticks.Add(1)
		if late {
			e.late.Add(1)
		}
		if err != nil {
			e.dropped.Add(1)
			continue
		}

		e.started.Add(1)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runner.run(ctx, vu)
		}()
	}
	return nil
}

// GetState returns the lifecycle state.
func (e *ConstantArrivalRate) GetState() State {
	return State(e.state.Load())
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	switch e.GetState() {
	case StateIdle:
		return 0.0
	case StateDraining, StateStopped:
		return 1.0
	}

	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	progress := float64(time.Since(start)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of VUs running an iteration.
func (e *ConstantArrivalRate) GetActiveVUs() int {
	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()

	if pool == nil {
		return 0
	}
	return pool.Busy()
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	e.mu.RLock()
	start, end := e.startTime, e.scheduleEnd
	pool, runner, schedule := e.pool, e.runner, e.schedule
	e.mu.RUnlock()

	now := time.Now()
	stats := &Stats{
		StartTime:      start,
		CurrentTime:    now,
		TotalDuration:  e.config.Duration,
		State:          e.GetState().String(),
		MaxVUs:         e.config.MaxVUs,
		TargetVUs:      e.config.PreAllocatedVUs,
		TicksAttempted: e.ticks.Load(),
		Dropped:        e.dropped.Load(),
		LateTicks:      e.late.Load(),
		TargetRate:     e.config.TargetRate(),
	}
	if start.IsZero() {
		return stats
	}

	stats.TickInterval = schedule.Interval()
	stats.SchedulerWait = schedule.TotalWaitTime()
	if end.IsZero() {
		stats.TicksDue = schedule.ExpectedTicks(now.Sub(start))
	} else {
		stats.TicksDue = schedule.ExpectedTicks(end.Sub(start))
	}

	stats.Elapsed = now.Sub(start)
	stats.ActiveVUs = pool.Busy()
	stats.AllocatedVUs = pool.Allocated()
	stats.IterationsStarted = e.started.Load()
	stats.Iterations = runner.completed.Load()
	stats.IterationErrors = runner.errored.Load()
	stats.TimedOut = runner.timedOut.Load()

	window := stats.Elapsed
	if !end.IsZero() {
		window = end.Sub(start)
	}
	stats.ActualRate = rateOver(stats.IterationsStarted, window)
	return stats
}

// Stop stops scheduling new ticks and waits for in-flight iterations or
// ctx, whichever comes first.
func (e *ConstantArrivalRate) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	e.stopRequested = true
	cancel := e.cancelFunc
	e.cancelMu.Unlock()

	if e.GetState() == StateIdle {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
