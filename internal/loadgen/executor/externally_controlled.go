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
)

// ExternallyControlled keeps a target number of VUs looping (closed model).
//
// Each loop acquires a VU, runs one iteration, releases the VU and starts
// over, so a logical user never has two iterations in flight. The target
// can be changed while running with SetVUs: raising it spawns loops up to
// MaxVUs, lowering it makes the excess loops exit at their next iteration
// boundary.
//
// Example:
//
//	config:
//	  executor: externally-controlled
//	  vus: 10
//	  maxVUs: 50
//	  duration: 10m
type ExternallyControlled struct {
	config *Config

	// Protects state transitions, spawning and the fields below
	mu     sync.Mutex
	runCtx context.Context
	pool   *loadgen.Pool
	runner *iterationRunner

	state   atomic.Int32
	target  atomic.Int64
	active  atomic.Int64
	started atomic.Int64

	cancelFunc    context.CancelFunc
	stopRequested bool
	wg            sync.WaitGroup
	done          chan struct{}

	fatalOnce sync.Once
	fatal     error

	startTime time.Time
	drainTime time.Time
}

// NewExternallyControlled creates a new externally controlled executor.
func NewExternallyControlled() *ExternallyControlled {
	return &ExternallyControlled{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ExternallyControlled) Type() Type {
	return TypeExternallyControlled
}

// Init initializes the executor with configuration.
func (e *ExternallyControlled) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeExternallyControlled {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeExternallyControlled, config.Type)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.target.Store(int64(config.VUs))
	return nil
}

// Run keeps the target number of loops running until the duration elapses
// or ctx is cancelled, then waits for every loop to finish its iteration.
func (e *ExternallyControlled) Run(ctx context.Context, pool *loadgen.Pool, fn loadgen.IterationFunc) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	defer cancel()

	e.mu.Lock()
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		e.mu.Unlock()
		return errors.New("executor already started")
	}
	defer close(e.done)

	e.runCtx = runCtx
	e.cancelFunc = cancel
	e.pool = pool
	e.runner = newIterationRunner(e.config, pool, fn)
	e.startTime = time.Now()
	if e.stopRequested {
		cancel()
	}
	e.spawnLocked()
	e.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"scenario": e.config.Name, "executor": TypeExternallyControlled})
	log.WithField("vus", e.GetTargetVUs()).Debug("starting VU loops")

	<-runCtx.Done()

	e.mu.Lock()
	e.state.Store(int32(StateDraining))
	e.drainTime = time.Now()
	e.mu.Unlock()

	e.wg.Wait()
	e.state.Store(int32(StateStopped))

	if e.fatal != nil {
		log.WithError(e.fatal).Error("scenario aborted")
		return e.fatal
	}
	return nil
}

// spawnLocked starts loops until the active count reaches the target.
// Caller holds mu.
func (e *ExternallyControlled) spawnLocked() {
	for e.active.Load() < e.target.Load() {
		e.active.Add(1)
		e.wg.Add(1)
		go e.loop()
	}
}

// loop runs iterations back to back on one logical user.
func (e *ExternallyControlled) loop() {
	defer e.wg.Done()

	for {
		if e.retire() {
			return
		}
		if e.runCtx.Err() != nil {
			e.active.Add(-1)
			return
		}

		vu, err := e.pool.AcquireContext(e.runCtx)
		if err != nil {
			e.active.Add(-1)
			if e.runCtx.Err() == nil {
				e.fail(err)
			}
			return
		}

		e.started.Add(1)
		e.runner.run(e.runCtx, vu)
	}
}

// retire makes the calling loop exit if there are more loops than the
// target. The decrement is a CAS so concurrent loops never retire more
// than the excess.
func (e *ExternallyControlled) retire() bool {
	for {
		active := e.active.Load()
		if active <= e.target.Load() {
			return false
		}
		if e.active.CompareAndSwap(active, active-1) {
			return true
		}
	}
}

// fail records the first fatal error and stops the scenario.
func (e *ExternallyControlled) fail(err error) {
	e.fatalOnce.Do(func() {
		var fe *loadgen.FatalError
		if !errors.As(err, &fe) {
			err = &loadgen.FatalError{Scenario: e.config.Name, Err: err}
		}
		e.fatal = err
		e.cancelFunc()
	})
}

// SetVUs changes the number of looping VUs.
//
// n must be in [0, MaxVUs]. Calls made after draining started fail with
// ErrNotRunning. Before Run the value becomes the initial target.
func (e *ExternallyControlled) SetVUs(n int) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if n < 0 || n > e.config.MaxVUs {
		return fmt.Errorf("%w: %d is outside [0, %d]", ErrInvalidVUs, n, e.config.MaxVUs)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.GetState() {
	case StateDraining, StateStopped:
		return ErrNotRunning
	case StateRunning:
		e.target.Store(int64(n))
		e.spawnLocked()
	default:
		e.target.Store(int64(n))
	}

	logrus.WithFields(logrus.Fields{"scenario": e.config.Name, "vus": n}).Info("VU target changed")
	return nil
}

// GetTargetVUs returns the current VU target.
func (e *ExternallyControlled) GetTargetVUs() int {
	return int(e.target.Load())
}

// GetState returns the lifecycle state.
func (e *ExternallyControlled) GetState() State {
	return State(e.state.Load())
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ExternallyControlled) GetProgress() float64 {
	switch e.GetState() {
	case StateIdle:
		return 0.0
	case StateDraining, StateStopped:
		return 1.0
	}

	e.mu.Lock()
	start := e.startTime
	e.mu.Unlock()

	progress := float64(time.Since(start)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of running loops.
func (e *ExternallyControlled) GetActiveVUs() int {
	return int(e.active.Load())
}

// GetStats returns executor statistics.
func (e *ExternallyControlled) GetStats() *Stats {
	e.mu.Lock()
	start, drain := e.startTime, e.drainTime
	pool, runner := e.pool, e.runner
	e.mu.Unlock()

	now := time.Now()
	stats := &Stats{
		StartTime:     start,
		CurrentTime:   now,
		TotalDuration: e.config.Duration,
		State:         e.GetState().String(),
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     e.GetTargetVUs(),
		MaxVUs:        e.config.MaxVUs,
	}
	if start.IsZero() {
		return stats
	}

	stats.Elapsed = now.Sub(start)
	stats.AllocatedVUs = pool.Allocated()
	stats.IterationsStarted = e.started.Load()
	stats.Iterations = runner.completed.Load()
	stats.IterationErrors = runner.errored.Load()
	stats.TimedOut = runner.timedOut.Load()

	window := stats.Elapsed
	if !drain.IsZero() {
		window = drain.Sub(start)
	}
	stats.ActualRate = rateOver(stats.IterationsStarted, window)
	return stats
}

// Stop begins draining and waits for running iterations or ctx.
func (e *ExternallyControlled) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopRequested = true
	cancel := e.cancelFunc
	e.mu.Unlock()

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

// Ensure ExternallyControlled implements Controllable
var _ Controllable = (*ExternallyControlled)(nil)
