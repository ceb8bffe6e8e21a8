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

const (
	maxRampStep = 100 * time.Millisecond
	minRampStep = 10 * time.Millisecond
)

// RampingVUs ramps the number of looping VUs up and down according to
// stages (closed model).
//
// The VU count is interpolated linearly between stage targets and
// re-evaluated every ramp step, so load changes gradually instead of in
// one jump per stage. Loops behave like those of ExternallyControlled:
// excess loops exit at their next iteration boundary.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 20     # Ramp from startVUs to 20 VUs over 30s
//	  - duration: 1m30s
//	    target: 10     # Ramp down to 10 VUs over 90s
//	  - duration: 20s
//	    target: 0      # Ramp down to 0 VUs over 20s
type RampingVUs struct {
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
	stage   atomic.Int32

	cancelFunc    context.CancelFunc
	stopRequested bool
	wg            sync.WaitGroup
	done          chan struct{}

	fatalOnce sync.Once
	fatal     error

	startTime time.Time
	drainTime time.Time
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.target.Store(int64(config.StartVUs))
	return nil
}

// Run follows the stages until they are over or ctx is cancelled, then
// waits for every loop to finish its iteration.
func (e *RampingVUs) Run(ctx context.Context, pool *loadgen.Pool, fn loadgen.IterationFunc) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
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
	start := e.startTime
	e.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"scenario": e.config.Name, "executor": TypeRampingVUs})
	log.WithFields(logrus.Fields{
		"stages":   len(e.config.Stages),
		"startVUs": e.config.StartVUs,
		"maxVUs":   e.config.MaxVUs,
	}).Debug("ramping VU loops")

	e.ramp(runCtx, start)

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

// ramp re-evaluates the VU target every ramp step until ctx is done.
func (e *RampingVUs) ramp(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(rampStep(e.config.Stages))
	defer ticker.Stop()

	for ctx.Err() == nil {
		target, stage := stageTarget(e.config.StartVUs, e.config.Stages, time.Since(start))
		e.stage.Store(int32(stage))
		e.target.Store(int64(target))

		e.mu.Lock()
		e.spawnLocked()
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// spawnLocked starts loops until the active count reaches the target.
// Caller holds mu.
func (e *RampingVUs) spawnLocked() {
	for e.active.Load() < e.target.Load() {
		e.active.Add(1)
		e.wg.Add(1)
		go e.loop()
	}
}

// loop runs iterations back to back on one logical user.
func (e *RampingVUs) loop() {
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
// target.
func (e *RampingVUs) retire() bool {
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
func (e *RampingVUs) fail(err error) {
	e.fatalOnce.Do(func() {
		var fe *loadgen.FatalError
		if !errors.As(err, &fe) {
			err = &loadgen.FatalError{Scenario: e.config.Name, Err: err}
		}
		e.fatal = err
		e.cancelFunc()
	})
}

// stageTarget returns the VU target elapsed into a ramp that begins at
// start VUs, and the 1-based index of the stage it falls in. Past the last
// stage the last target holds.
func stageTarget(start int, stages []Stage, elapsed time.Duration) (int, int) {
	var stageStart time.Duration
	prev := start

	for i, st := range stages {
		stageEnd := stageStart + st.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(st.Duration)
			if progress < 0 {
				progress = 0
			}
			target := float64(prev) + float64(st.Target-prev)*progress
			return int(target + 0.5), i + 1
		}
		prev = st.Target
		stageStart = stageEnd
	}
	return prev, len(stages)
}

// rampStep is a tenth of the shortest stage, kept within
// [minRampStep, maxRampStep].
func rampStep(stages []Stage) time.Duration {
	step := maxRampStep
	for _, st := range stages {
		if st.Duration > 0 && st.Duration/10 < step {
			step = st.Duration / 10
		}
	}
	if step < minRampStep {
		step = minRampStep
	}
	return step
}

// GetState returns the lifecycle state.
func (e *RampingVUs) GetState() State {
	return State(e.state.Load())
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	switch e.GetState() {
	case StateIdle:
		return 0.0
	case StateDraining, StateStopped:
		return 1.0
	}

	e.mu.Lock()
	start := e.startTime
	e.mu.Unlock()

	progress := float64(time.Since(start)) / float64(e.config.TotalDuration())
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of running loops.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.active.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.Lock()
	start, drain := e.startTime, e.drainTime
	pool, runner := e.pool, e.runner
	e.mu.Unlock()

	now := time.Now()
	stats := &Stats{
		StartTime:     start,
		CurrentTime:   now,
		TotalDuration: e.config.TotalDuration(),
		State:         e.GetState().String(),
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     int(e.target.Load()),
		MaxVUs:        e.config.MaxVUs,
		Stage:         int(e.stage.Load()),
		Stages:        len(e.config.Stages),
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
func (e *RampingVUs) Stop(ctx context.Context) error {
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

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
