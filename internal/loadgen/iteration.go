package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// IterationFunc is one unit of work of a scenario.
//
// It keeps no state across calls, performs one or more calls to the target
// and reports outcomes through it. A returned error is counted as a failed
// iteration; it never aborts the run.
type IterationFunc func(ctx context.Context, it *Iteration) error

// Iteration is the context handed to an IterationFunc.
type Iteration struct {
	// Scenario is the name of the running scenario
	Scenario string

	// Number is the per-VU iteration number, starting at 1
	Number int64

	// Env holds the scenario's environment values
	Env map[string]string

	vu     *VirtualUser
	passed atomic.Int64
	failed atomic.Int64
}

// NewIteration creates the context for the next iteration on vu.
func NewIteration(scenario string, vu *VirtualUser) *Iteration {
	return &Iteration{
		Scenario: scenario,
		Number:   vu.NextIteration(),
		vu:       vu,
	}
}

// VU returns the Virtual User running the iteration.
func (it *Iteration) VU() *VirtualUser {
	return it.vu
}

// Getenv returns the scenario environment value for key, or def.
func (it *Iteration) Getenv(key, def string) string {
	if v, ok := it.Env[key]; ok && v != "" {
		return v
	}
	return def
}

// HTTPClient returns the client iteration functions should use.
func (it *Iteration) HTTPClient() *http.Client {
	return it.vu.HTTPClient
}

// Check records a named assertion and returns ok.
func (it *Iteration) Check(name string, ok bool) bool {
	if ok {
		it.passed.Add(1)
	} else {
		it.failed.Add(1)
	}
	return it.vu.Checks.Check(name, ok)
}

// Record adds a sample to a trend metric.
func (it *Iteration) Record(name string, value float64) {
	it.vu.Metrics.Record(name, value)
}

// RecordDuration adds a duration sample, in milliseconds, to a trend metric.
func (it *Iteration) RecordDuration(name string, d time.Duration) {
	it.vu.Metrics.RecordDuration(name, d)
}

// Add increases a counter metric.
func (it *Iteration) Add(name string, delta float64) {
	it.vu.Metrics.Add(name, delta)
}

// Group runs fn and records its duration as group_duration{group:::name}.
func (it *Iteration) Group(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	it.RecordDuration(GroupMetric(name), time.Since(start))
	return err
}

// GroupMetric returns the trend name holding the duration of a group.
func GroupMetric(name string) string {
	return fmt.Sprintf("group_duration{group:::%s}", name)
}

// Checks returns the number of checks passed and failed so far.
func (it *Iteration) Checks() (passed, failed int64) {
	return it.passed.Load(), it.failed.Load()
}

// IterationResult is the outcome of one iteration.
type IterationResult struct {
	VUID         int           `json:"vuId"`
	Iteration    int64         `json:"iteration"`
	Duration     time.Duration `json:"duration"`
	Err          error         `json:"-"`
	TimedOut     bool          `json:"timedOut"`
	ChecksPassed int64         `json:"checksPassed"`
	ChecksFailed int64         `json:"checksFailed"`
}

// Failed reports whether the iteration returned an error or timed out.
func (r IterationResult) Failed() bool {
	return r.Err != nil || r.TimedOut
}

// Registry maps names to iteration functions (the "exec" of a scenario).
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]IterationFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]IterationFunc)}
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn IterationFunc) error {
	if name == "" {
		return fmt.Errorf("iteration function name is required")
	}
	if fn == nil {
		return fmt.Errorf("iteration function %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("iteration function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn IterationFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (IterationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
