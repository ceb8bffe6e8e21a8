// Package executor provides the scheduling strategies that turn a scenario
// into a stream of iterations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantArrivalRate starts iterations at a fixed rate (open model).
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeExternallyControlled keeps an externally adjustable number of
	// VUs looping (closed model).
	TypeExternallyControlled Type = "externally-controlled"

	// TypeRampingVUs moves the number of looping VUs through stages
	// (closed model).
	TypeRampingVUs Type = "ramping-vus"
)

var (
	// ErrNotRunning is returned when controlling an executor that has
	// started draining or has stopped.
	ErrNotRunning = errors.New("executor is not running")

	// ErrInvalidVUs is returned when a VU target is out of range.
	ErrInvalidVUs = errors.New("invalid VU count")
)

// State is the lifecycle state of an executor.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Executor defines the interface for load generation strategies.
//
// Executors control HOW iterations are started: at a fixed arrival rate,
// or by a number of looping VUs. Both borrow VUs from a loadgen.Pool.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run blocks until the scenario has drained. It returns a non-nil
	// error only when the executor cannot proceed (ExecutorFatal).
	Run(ctx context.Context, pool *loadgen.Pool, fn loadgen.IterationFunc) error

	// GetState returns the lifecycle state.
	GetState() State

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends scheduling early and waits for in-flight iterations.
	Stop(ctx context.Context) error
}

// Controllable is implemented by executors whose VU target can be changed
// while they run.
type Controllable interface {
	Executor

	// SetVUs changes the number of concurrently looping VUs. Changes apply
	// at iteration boundaries; running iterations are never interrupted.
	SetVUs(n int) error

	// GetTargetVUs returns the current VU target.
	GetTargetVUs() int
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// Exec names the iteration function
	Exec string `json:"exec" yaml:"exec"`

	Duration time.Duration `json:"duration" yaml:"duration"`

	// Arrival-rate executors: Rate iterations per TimeUnit
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// Externally-controlled executors: initial VU target
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Ramping executors: VUs at the start and the stages to move through
	StartVUs int     `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// IterationTimeout abandons iterations running longer (0 = no limit)
	IterationTimeout time.Duration `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// Env is exposed to iteration functions
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Tags label the scenario in summaries
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Stage is one step of a ramping profile: the VU count moves linearly
// from the previous target to Target over Duration.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	Target   int           `json:"target" yaml:"target"`
}

// ApplyDefaults fills in unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.TimeUnit <= 0 {
		c.TimeUnit = time.Second
	}
	if c.MaxVUs == 0 {
		switch c.Type {
		case TypeConstantArrivalRate:
			c.MaxVUs = c.PreAllocatedVUs
		case TypeExternallyControlled:
			c.MaxVUs = c.VUs
		case TypeRampingVUs:
			c.MaxVUs = c.peakStageVUs()
		}
	}
	if c.Type == TypeRampingVUs && c.Duration == 0 {
		c.Duration = c.stagesDuration()
	}
}

// peakStageVUs returns the highest VU count a ramping profile reaches.
func (c *Config) peakStageVUs() int {
	peak := c.StartVUs
	for _, st := range c.Stages {
		if st.Target > peak {
			peak = st.Target
		}
	}
	return peak
}

func (c *Config) stagesDuration() time.Duration {
	var total time.Duration
	for _, st := range c.Stages {
		total += st.Duration
	}
	return total
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "executor", Message: "executor type is required"}
	}
	if c.Type == TypeRampingVUs && len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	if c.Duration <= 0 {
		return &ValidationError{Field: "duration", Message: "duration must be > 0"}
	}
	if c.IterationTimeout < 0 {
		return &ValidationError{Field: "iterationTimeout", Message: "iterationTimeout must be >= 0"}
	}

	switch c.Type {
	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.TimeUnit <= 0 {
			return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
		}
		if c.PreAllocatedVUs < 0 {
			return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
		}
		if c.MaxVUs <= 0 {
			return &ValidationError{Field: "maxVUs", Message: "maxVUs must be > 0"}
		}
		if c.PreAllocatedVUs > c.MaxVUs {
			return &ValidationError{Field: "preAllocatedVUs", Message: fmt.Sprintf("preAllocatedVUs (%d) must be <= maxVUs (%d)", c.PreAllocatedVUs, c.MaxVUs)}
		}

	case TypeExternallyControlled:
		if c.VUs < 0 {
			return &ValidationError{Field: "vus", Message: "vus must be >= 0"}
		}
		if c.MaxVUs <= 0 {
			return &ValidationError{Field: "maxVUs", Message: "maxVUs must be > 0"}
		}
		if c.VUs > c.MaxVUs {
			return &ValidationError{Field: "vus", Message: fmt.Sprintf("vus (%d) must be <= maxVUs (%d)", c.VUs, c.MaxVUs)}
		}

	case TypeRampingVUs:
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		for i, st := range c.Stages {
			if st.Duration < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
			}
			if st.Target < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
			}
		}
		if c.MaxVUs <= 0 {
			return &ValidationError{Field: "maxVUs", Message: "maxVUs must be > 0"}
		}
		if peak := c.peakStageVUs(); peak > c.MaxVUs {
			return &ValidationError{Field: "maxVUs", Message: fmt.Sprintf("maxVUs (%d) must be >= the highest stage target (%d)", c.MaxVUs, peak)}
		}

	default:
		return &ValidationError{Field: "executor", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration returns how long the executor schedules work.
func (c *Config) TotalDuration() time.Duration {
	return c.Duration
}

// TargetRate returns the target arrival rate in iterations per second.
func (c *Config) TargetRate() float64 {
	if c.Type != TypeConstantArrivalRate {
		return 0
	}
	unit := c.TimeUnit
	if unit <= 0 {
		unit = time.Second
	}
	return c.Rate / unit.Seconds()
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`
	State         string        `json:"state"`

	// VU stats
	ActiveVUs    int `json:"activeVUs"`
	TargetVUs    int `json:"targetVUs"`
	MaxVUs       int `json:"maxVUs"`
	AllocatedVUs int `json:"allocatedVUs"`

	// Iteration stats
	Iterations        int64 `json:"iterations"`
	IterationsStarted int64 `json:"iterationsStarted"`
	IterationErrors   int64 `json:"iterationErrors"`
	TimedOut          int64 `json:"timedOut"`

	// Arrival-rate stats
	TicksAttempted int64         `json:"ticksAttempted,omitempty"`
	TicksDue       int64         `json:"ticksDue,omitempty"`
	Dropped        int64         `json:"dropped,omitempty"`
	LateTicks      int64         `json:"lateTicks,omitempty"`
	TickInterval   time.Duration `json:"tickInterval,omitempty"`
	SchedulerWait  time.Duration `json:"schedulerWait,omitempty"` // time the scheduler slept waiting for due ticks

	// Ramping stats
	Stage  int `json:"stage,omitempty"` // 1-based index of the current stage
	Stages int `json:"stages,omitempty"`

	// Rates in iterations per second
	TargetRate float64 `json:"targetRate"`
	ActualRate float64 `json:"actualRate"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// Unwrap lets callers match errors.Is(err, loadgen.ErrConfigInvalid).
func (e *ValidationError) Unwrap() error {
	return loadgen.ErrConfigInvalid
}

// rateOver returns n per second over d.
func rateOver(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
