package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/loadpair/internal/loadgen/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-arrival-rate" - Fixed iteration rate (open model)
//   - "externally-controlled" - Adjustable number of looping VUs (closed model)
//   - "ramping-vus" - Number of looping VUs moved through stages (closed model)
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeExternallyControlled:
		return NewExternallyControlled(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// CreateExecutorFromScenarioConfig creates and initializes an executor from a scenario config.
//
// This function bridges the config.ScenarioConfig (from YAML/JSON) to the executor.Config.
func CreateExecutorFromScenarioConfig(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	execConfig, err := ConvertScenarioConfig(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}

	return exec, execConfig, nil
}

// ConvertScenarioConfig converts a config.ScenarioConfig to an executor Config.
func ConvertScenarioConfig(name string, sc *config.ScenarioConfig) (*Config, error) {
	if sc == nil {
		return nil, fmt.Errorf("scenario %q has no definition", name)
	}

	cfg := &Config{
		Name:            name,
		Type:            Type(sc.Executor),
		Exec:            sc.Exec,
		Rate:            sc.Rate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		VUs:             sc.VUs,
		StartVUs:        sc.StartVUs,
		MaxVUs:          sc.MaxVUs,
		Env:             sc.Env,
		Tags:            sc.Tags,
	}
	if cfg.Exec == "" {
		cfg.Exec = config.DefaultExec
	}

	var err error
	if cfg.Duration, err = config.ParseDurationString(sc.Duration); err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if cfg.TimeUnit, err = config.ParseDurationString(sc.TimeUnit); err != nil {
		return nil, fmt.Errorf("invalid timeUnit: %w", err)
	}
	if cfg.IterationTimeout, err = config.ParseDurationString(sc.IterationTimeout); err != nil {
		return nil, fmt.Errorf("invalid iterationTimeout: %w", err)
	}
	for i, st := range sc.Stages {
		d, err := config.ParseDurationString(st.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stages[%d].duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{Duration: d, Target: st.Target})
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// GetExecutorDescription returns a human-readable description of an executor type.
func GetExecutorDescription(executorType Type) string {
	switch executorType {
	case TypeConstantArrivalRate:
		return "Starts iterations at a fixed rate regardless of response time, dropping ticks when no VU is free"
	case TypeExternallyControlled:
		return "Keeps an adjustable number of VUs running iterations back to back"
	case TypeRampingVUs:
		return "Moves the number of VUs running iterations back to back through stages"
	default:
		return "Unknown executor type"
	}
}

// ListExecutorTypes returns all available executor types.
func ListExecutorTypes() []Type {
	return []Type{
		TypeConstantArrivalRate,
		TypeExternallyControlled,
		TypeRampingVUs,
	}
}
