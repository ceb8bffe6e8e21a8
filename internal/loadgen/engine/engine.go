// Package engine coordinates the scenarios of a run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/checks"
	"github.com/wesleyorama2/loadpair/internal/loadgen/config"
	"github.com/wesleyorama2/loadpair/internal/loadgen/executor"
	"github.com/wesleyorama2/loadpair/internal/loadgen/metrics"
)

var (
	// ErrUnknownScenario is returned for a scenario name not in the run.
	ErrUnknownScenario = errors.New("unknown scenario")

	// ErrNotControllable is returned when a scenario's executor cannot be
	// adjusted at run time.
	ErrNotControllable = errors.New("scenario is not externally controllable")
)

// Engine is the run coordinator.
//
// It coordinates:
//   - Configuration validation
//   - One VU pool and executor per scenario, all run concurrently
//   - Merging of per-VU metric and check shards
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("run.yaml")
//	eng, _ := engine.New(cfg, funcs)
//	summary, err := eng.Run(ctx)
type Engine struct {
	cfg        *config.TestConfig
	funcs      *loadgen.Registry
	stats      []metrics.Stat
	thresholds map[string][]*metrics.Threshold
	opts       Options

	scenarios map[string]*scenarioRunner
	names     []string

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

// Options tune an Engine.
type Options struct {
	// ProgressInterval between progress log lines; zero disables them
	ProgressInterval time.Duration

	// NewHTTPClient builds the client shared by a scenario's VUs
	NewHTTPClient func(loadgen.HTTPClientConfig) *http.Client

	// NewVU creates the VUs of a scenario; defaults to loadgen.NewVirtualUser
	NewVU func(scenario string, id int, client *http.Client) (*loadgen.VirtualUser, error)
}

type scenarioRunner struct {
	name     string
	config   *executor.Config
	executor executor.Executor
	fn       loadgen.IterationFunc
	pool     *loadgen.Pool
}

// New validates cfg and prepares one executor per scenario. Every
// scenario's exec must be registered in funcs.
//
// Configuration problems are reported as errors matching
// loadgen.ErrConfigInvalid.
func New(cfg *config.TestConfig, funcs *loadgen.Registry, opts ...Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", loadgen.ErrConfigInvalid)
	}
	if funcs == nil {
		funcs = loadgen.NewRegistry()
	}

	config.ApplyDefaults(cfg)
	if err := cfg.ValidateExecs(funcs.Names()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	stats, err := metrics.ParseStats(cfg.SummaryTrendStats)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loadgen.ErrConfigInvalid, err)
	}

	thresholds := make(map[string][]*metrics.Threshold, len(cfg.Thresholds))
	for name, exprs := range cfg.Thresholds {
		for _, expr := range exprs {
			th, err := metrics.ParseThreshold(expr)
			if err != nil {
				return nil, fmt.Errorf("%w: thresholds.%s: %v", loadgen.ErrConfigInvalid, name, err)
			}
			thresholds[name] = append(thresholds[name], th)
		}
	}

	e := &Engine{
		cfg:        cfg,
		funcs:      funcs,
		stats:      stats,
		thresholds: thresholds,
		scenarios:  make(map[string]*scenarioRunner, len(cfg.Scenarios)),
		done:       make(chan struct{}),
	}
	if len(opts) > 0 {
		e.opts = opts[0]
	}
	if e.opts.NewHTTPClient == nil {
		e.opts.NewHTTPClient = loadgen.NewHTTPClient
	}
	if e.opts.NewVU == nil {
		e.opts.NewVU = func(_ string, id int, client *http.Client) (*loadgen.VirtualUser, error) {
			return loadgen.NewVirtualUser(id, client), nil
		}
	}

	for name, sc := range cfg.Scenarios {
		exec, execCfg, err := executor.CreateExecutorFromScenarioConfig(context.Background(), name, sc)
		if err != nil {
			return nil, fmt.Errorf("%w: scenario %q: %v", loadgen.ErrConfigInvalid, name, err)
		}
		fn, _ := funcs.Lookup(execCfg.Exec)
		e.scenarios[name] = &scenarioRunner{
			name:     name,
			config:   execCfg,
			executor: exec,
			fn:       fn,
		}
		e.names = append(e.names, name)
	}
	sort.Strings(e.names)

	return e, nil
}

// Run executes all scenarios concurrently and returns the run summary.
//
// The returned error is non-nil only if a scenario terminated abnormally;
// it aggregates every scenario's *loadgen.FatalError and matches
// loadgen.ErrExecutorFatal. A fatal scenario stops the others, which drain.
// Cancelling ctx ends the run early without an error.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("engine can only run once")
	}
	e.running = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	if e.stopped {
		cancel()
	}
	e.mu.Unlock()
	defer close(e.done)
	defer cancel()

	runID := uuid.NewString()
	log := logrus.WithField("run", runID)
	start := time.Now()

	var (
		errMu  sync.Mutex
		result *multierror.Error
	)
	appendErr := func(err error) {
		errMu.Lock()
		result = multierror.Append(result, err)
		errMu.Unlock()
	}

	httpCfg := e.cfg.Settings.HTTPClientConfig()
	for _, name := range e.names {
		sr := e.scenarios[name]
		pool, err := e.newPool(sr, httpCfg)
		if err != nil {
			appendErr(err)
			continue
		}
		sr.pool = pool
	}
	if err := result.ErrorOrNil(); err != nil {
		e.closePools()
		log.WithError(err).Error("run aborted during setup")
		return e.summarize(runID, start, time.Now()), err
	}

	log.WithField("scenarios", len(e.names)).Info("run started")

	stopProgress := e.logProgress(log)

	g, gctx := errgroup.WithContext(runCtx)
	for _, name := range e.names {
		sr := e.scenarios[name]
		g.Go(func() error {
			if err := e.runScenario(gctx, sr); err != nil {
				appendErr(err)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	stopProgress()

	end := time.Now()
	summary := e.summarize(runID, start, end)
	e.closePools()

	runErr := result.ErrorOrNil()
	entry := log.WithFields(logrus.Fields{
		"duration": end.Sub(start).Round(time.Millisecond),
		"passed":   summary.Passed,
	})
	if runErr != nil {
		entry.WithError(runErr).Error("run finished with fatal errors")
	} else {
		entry.Info("run finished")
	}
	return summary, runErr
}

func (e *Engine) newPool(sr *scenarioRunner, httpCfg loadgen.HTTPClientConfig) (*loadgen.Pool, error) {
	client := e.opts.NewHTTPClient(httpCfg)

	var preAllocated int
	switch sr.config.Type {
	case executor.TypeExternallyControlled:
		preAllocated = sr.config.VUs
	case executor.TypeRampingVUs:
		preAllocated = sr.config.StartVUs
	default:
		preAllocated = sr.config.PreAllocatedVUs
	}

	pool, err := loadgen.NewPool(loadgen.PoolConfig{
		Name:         sr.name,
		PreAllocated: preAllocated,
		Max:          sr.config.MaxVUs,
		NewVU: func(id int) (*loadgen.VirtualUser, error) {
			return e.opts.NewVU(sr.name, id, client)
		},
	})
	if err != nil {
		var fe *loadgen.FatalError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &loadgen.FatalError{Scenario: sr.name, Err: err}
	}
	return pool, nil
}

// runScenario runs one executor, turning a panic into a fatal error.
func (e *Engine) runScenario(ctx context.Context, sr *scenarioRunner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &loadgen.FatalError{Scenario: sr.name, Err: fmt.Errorf("executor panic: %v", r)}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"scenario": sr.name,
		"executor": sr.config.Type,
		"exec":     sr.config.Exec,
	}).Info("scenario started")

	err = sr.executor.Run(ctx, sr.pool, sr.fn)
	if err != nil {
		var fe *loadgen.FatalError
		if !errors.As(err, &fe) {
			err = &loadgen.FatalError{Scenario: sr.name, Err: err}
		}
	}
	return err
}

// logProgress logs every scenario's stats periodically until the returned
// function is called.
func (e *Engine) logProgress(log *logrus.Entry) func() {
	if e.opts.ProgressInterval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for name, st := range e.ScenarioStats() {
					fields := logrus.Fields{
						"scenario":   name,
						"state":      st.State,
						"vus":        st.ActiveVUs,
						"iterations": st.Iterations,
						"dropped":    st.Dropped,
					}
					if st.Stages > 0 {
						fields["stage"] = fmt.Sprintf("%d/%d", st.Stage, st.Stages)
					}
					log.WithFields(fields).Info("progress")
				}
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

func (e *Engine) closePools() {
	for _, sr := range e.scenarios {
		if sr.pool != nil {
			sr.pool.Close()
		}
	}
}

// Stop ends the run early. In-flight iterations are allowed to finish.
// It waits for Run to return or ctx to be done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	running := e.running
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	if !running {
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the mean progress of all scenarios (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	if len(e.names) == 0 {
		return 0
	}
	var total float64
	for _, sr := range e.scenarios {
		total += sr.executor.GetProgress()
	}
	return total / float64(len(e.names))
}

// ScenarioStats returns the current stats of every scenario.
func (e *Engine) ScenarioStats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for name, sr := range e.scenarios {
		stats[name] = sr.executor.GetStats()
	}
	return stats
}

// ScenarioStatus describes one scenario for the control API.
type ScenarioStatus struct {
	Name         string        `json:"name"`
	Executor     executor.Type `json:"executor"`
	Exec         string        `json:"exec"`
	Controllable bool          `json:"controllable"`
	State        string        `json:"state"`
	ActiveVUs    int           `json:"activeVUs"`
	TargetVUs    int           `json:"targetVUs,omitempty"`
	MaxVUs       int           `json:"maxVUs"`
	Iterations   int64         `json:"iterations"`
	Dropped      int64         `json:"dropped,omitempty"`
	Progress     float64       `json:"progress"`
}

// Scenarios returns the status of every scenario, sorted by name.
func (e *Engine) Scenarios() []ScenarioStatus {
	out := make([]ScenarioStatus, 0, len(e.names))
	for _, name := range e.names {
		st, _ := e.Scenario(name)
		out = append(out, st)
	}
	return out
}

// Scenario returns the status of the named scenario.
func (e *Engine) Scenario(name string) (ScenarioStatus, error) {
	sr, ok := e.scenarios[name]
	if !ok {
		return ScenarioStatus{}, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}

	stats := sr.executor.GetStats()
	_, controllable := sr.executor.(executor.Controllable)
	return ScenarioStatus{
		Name:         name,
		Executor:     sr.config.Type,
		Exec:         sr.config.Exec,
		Controllable: controllable,
		State:        stats.State,
		ActiveVUs:    stats.ActiveVUs,
		TargetVUs:    stats.TargetVUs,
		MaxVUs:       sr.config.MaxVUs,
		Iterations:   stats.Iterations,
		Dropped:      stats.Dropped,
		Progress:     sr.executor.GetProgress(),
	}, nil
}

// Controllable returns the control handle of an externally-controlled
// scenario.
func (e *Engine) Controllable(name string) (executor.Controllable, error) {
	sr, ok := e.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	c, ok := sr.executor.(executor.Controllable)
	if !ok {
		return nil, fmt.Errorf("%w: %q uses %s", ErrNotControllable, name, sr.config.Type)
	}
	return c, nil
}

// collect merges the shards of a scenario's pool.
func (sr *scenarioRunner) collect() (*metrics.Registry, *checks.Tally) {
	if sr.pool == nil {
		return metrics.NewRegistry(), checks.NewTally()
	}
	return sr.pool.Collect()
}
