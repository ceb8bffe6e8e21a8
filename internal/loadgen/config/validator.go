package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/metrics"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Is makes ValidationErrors match loadgen.ErrConfigInvalid.
func (e *ValidationErrors) Is(target error) bool {
	return target == loadgen.ErrConfigInvalid
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the configuration without checking exec names.
func (c *TestConfig) Validate() error {
	return c.ValidateExecs(nil)
}

// ValidateExecs validates the entire configuration. When known is non-nil
// every scenario's exec must be one of its entries.
//
// Returns nil if valid, or a *ValidationErrors containing all errors.
func (c *TestConfig) ValidateExecs(known []string) error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		validateScenario(name, c.Scenarios[name], known, errs)
	}

	validateSettings(&c.Settings, errs)

	for i, stat := range c.SummaryTrendStats {
		if _, err := metrics.ParseStat(stat); err != nil {
			errs.Add(fmt.Sprintf("summaryTrendStats[%d]", i), err.Error())
		}
	}

	validateThresholds(c.Thresholds, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateScenario(name string, sc *ScenarioConfig, known []string, errs *ValidationErrors) {
	prefix := "scenarios." + name

	if strings.TrimSpace(name) == "" {
		errs.Add("scenarios", "scenario name cannot be empty")
	}
	if sc == nil {
		errs.Add(prefix, "scenario definition is empty")
		return
	}

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if validate, ok := scenarioValidators[sc.Executor]; ok {
		validate(prefix, sc, errs)
	} else {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s (valid: %s)", sc.Executor, strings.Join(ExecutorTypes(), ", ")))
	}

	if sc.Executor == "ramping-vus" {
		if sc.Duration != "" {
			errs.Add(prefix+".duration", "ramping-vus takes its duration from stages")
		}
	} else if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", err.Error())
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be > 0")
	}

	if sc.IterationTimeout != "" {
		if d, err := ParseDurationString(sc.IterationTimeout); err != nil {
			errs.Add(prefix+".iterationTimeout", err.Error())
		} else if d < 0 {
			errs.Add(prefix+".iterationTimeout", "iterationTimeout must be >= 0")
		}
	}

	if known != nil && sc.Exec != "" && !contains(known, sc.Exec) {
		errs.Add(prefix+".exec", fmt.Sprintf("unknown iteration function %q (available: %s)", sc.Exec, strings.Join(known, ", ")))
	}
}

// scenarioValidators holds the executor-specific checks, keyed by the
// executor names scenario files may use.
var scenarioValidators = map[string]func(prefix string, sc *ScenarioConfig, errs *ValidationErrors){
	"constant-arrival-rate": validateConstantArrivalRate,
	"externally-controlled": validateExternallyControlled,
	"ramping-vus":           validateRampingVUs,
}

// ExecutorTypes returns the executor names accepted in scenario files.
func ExecutorTypes() []string {
	types := make([]string, 0, len(scenarioValidators))
	for t := range scenarioValidators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func validateConstantArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be > 0")
	}

	if sc.TimeUnit != "" {
		if d, err := ParseDurationString(sc.TimeUnit); err != nil {
			errs.Add(prefix+".timeUnit", err.Error())
		} else if d <= 0 {
			errs.Add(prefix+".timeUnit", "timeUnit must be > 0")
		}
	}

	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs must be >= 0")
	}
	if sc.MaxVUs <= 0 {
		errs.Add(prefix+".maxVUs", "maxVUs must be > 0")
	} else if sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", fmt.Sprintf("preAllocatedVUs (%d) must be <= maxVUs (%d)", sc.PreAllocatedVUs, sc.MaxVUs))
	}
}

func validateExternallyControlled(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs < 0 {
		errs.Add(prefix+".vus", "vus must be >= 0")
	}
	if sc.MaxVUs <= 0 {
		errs.Add(prefix+".maxVUs", "maxVUs must be > 0")
	} else if sc.VUs > sc.MaxVUs {
		errs.Add(prefix+".vus", fmt.Sprintf("vus (%d) must be <= maxVUs (%d)", sc.VUs, sc.MaxVUs))
	}
}

func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required")
	}
	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs must be >= 0")
	}

	peak := sc.StartVUs
	var total time.Duration
	for i, st := range sc.Stages {
		field := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if st.Duration == "" {
			errs.Add(field+".duration", "duration is required")
		} else if d, err := ParseDurationString(st.Duration); err != nil {
			errs.Add(field+".duration", err.Error())
		} else if d < 0 {
			errs.Add(field+".duration", "duration must be >= 0")
		} else {
			total += d
		}
		if st.Target < 0 {
			errs.Add(field+".target", "target must be >= 0")
		}
		if st.Target > peak {
			peak = st.Target
		}
	}
	if len(sc.Stages) > 0 && total <= 0 {
		errs.Add(prefix+".stages", "stages must last longer than 0s in total")
	}

	if sc.MaxVUs <= 0 {
		errs.Add(prefix+".maxVUs", "maxVUs must be > 0")
	} else if peak > sc.MaxVUs {
		errs.Add(prefix+".maxVUs", fmt.Sprintf("maxVUs (%d) must be >= the highest stage target (%d)", sc.MaxVUs, peak))
	}
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", "baseUrl must use http or https")
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout must be >= 0")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "maxConnectionsPerHost must be >= 0")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost must be >= 0")
	}
}

func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			errs.Add("thresholds", "metric name cannot be empty")
			continue
		}
		for i, expr := range thresholds[name] {
			if _, err := metrics.ParseThreshold(expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", name, i), err.Error())
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
