package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
)

// Built-in metric names recorded for every iteration.
const (
	MetricIterationDuration = "iteration_duration"
	MetricIterations        = "iterations"
	MetricIterationErrors   = "iteration_errors"
	MetricIterationsTimeout = "iterations_timed_out"
	MetricDroppedIterations = "dropped_iterations"
)

// iterationRunner runs one iteration on an acquired VU, records the
// built-in metrics into the VU's shard, and returns the VU to the pool.
type iterationRunner struct {
	scenario string
	env      map[string]string
	fn       loadgen.IterationFunc
	pool     *loadgen.Pool
	timeout  time.Duration

	completed atomic.Int64
	errored   atomic.Int64
	timedOut  atomic.Int64
}

func newIterationRunner(cfg *Config, pool *loadgen.Pool, fn loadgen.IterationFunc) *iterationRunner {
	return &iterationRunner{
		scenario: cfg.Name,
		env:      cfg.Env,
		fn:       fn,
		pool:     pool,
		timeout:  cfg.IterationTimeout,
	}
}

// run executes fn on vu. The iteration is detached from ctx cancellation
// so a stopping run lets it finish. With a timeout the iteration is
// abandoned when it expires; the VU then returns to the pool once fn
// eventually returns.
func (r *iterationRunner) run(ctx context.Context, vu *loadgen.VirtualUser) loadgen.IterationResult {
	it := loadgen.NewIteration(r.scenario, vu)
	it.Env = r.env

	iterCtx := context.WithoutCancel(ctx)
	start := time.Now()

	if r.timeout <= 0 {
		err := r.call(iterCtx, it)
		r.pool.Release(vu)
		return r.finish(it, time.Since(start), err, false)
	}

	iterCtx, cancel := context.WithTimeout(iterCtx, r.timeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		defer r.pool.Release(vu)
		done <- r.call(iterCtx, it)
	}()

	select {
	case err := <-done:
		timedOut := errors.Is(err, context.DeadlineExceeded) && iterCtx.Err() != nil
		return r.finish(it, time.Since(start), err, timedOut)
	case <-iterCtx.Done():
		return r.finish(it, time.Since(start), iterCtx.Err(), true)
	}
}

// call invokes fn and turns a panic into an iteration error.
func (r *iterationRunner) call(ctx context.Context, it *loadgen.Iteration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("iteration panicked: %v", p)
		}
	}()
	return r.fn(ctx, it)
}

func (r *iterationRunner) finish(it *loadgen.Iteration, elapsed time.Duration, err error, timedOut bool) loadgen.IterationResult {
	vu := it.VU()
	passed, failed := it.Checks()
	result := loadgen.IterationResult{
		VUID:         vu.ID,
		Iteration:    it.Number,
		Duration:     elapsed,
		Err:          err,
		TimedOut:     timedOut,
		ChecksPassed: passed,
		ChecksFailed: failed,
	}

	switch {
	case timedOut:
		r.timedOut.Add(1)
		vu.Metrics.Add(MetricIterationsTimeout, 1)
		logrus.WithFields(logrus.Fields{
			"scenario":  r.scenario,
			"vu":        vu.ID,
			"iteration": it.Number,
		}).Debug("iteration timed out and was abandoned")
		return result
	case err != nil:
		r.errored.Add(1)
		vu.Metrics.Add(MetricIterationErrors, 1)
		logrus.WithFields(logrus.Fields{
			"scenario":  r.scenario,
			"vu":        vu.ID,
			"iteration": it.Number,
		}).WithError(err).Debug("iteration failed")
	}

	r.completed.Add(1)
	vu.Metrics.Add(MetricIterations, 1)
	vu.Metrics.RecordDuration(MetricIterationDuration, elapsed)
	return result
}
