// Package config provides scenario file parsing and validation.
package config

import (
	"time"
)

// TestConfig is the root configuration of a run.
//
// Example YAML:
//
//	name: "forecast load"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	  discardResponseBodies: true
//	summaryTrendStats: ["avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"]
//	scenarios:
//	  s1:
//	    executor: constant-arrival-rate
//	    rate: ${rate}
//	    timeUnit: 1s
//	    duration: ${duration}
//	    preAllocatedVUs: 50
//	    maxVUs: 100
//	    exec: forecast
//	thresholds:
//	  http_req_duration: ["p(95) < 500"]
//	  checks: ["rate > 0.99"]
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Scenarios run concurrently, each with its own executor and VU pool
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// SummaryTrendStats selects the columns of the trend table
	SummaryTrendStats []string `json:"summaryTrendStats,omitempty" yaml:"summaryTrendStats,omitempty"`

	// Thresholds map a metric name to pass/fail expressions
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// GlobalSettings contains global HTTP settings.
type GlobalSettings struct {
	// BaseURL is the target the built-in iteration functions call
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// DiscardResponseBodies drains bodies without keeping them
	DiscardResponseBodies bool `json:"discardResponseBodies,omitempty" yaml:"discardResponseBodies,omitempty"`
}

// ScenarioConfig defines a single scenario.
type ScenarioConfig struct {
	// Executor: "constant-arrival-rate", "externally-controlled" or "ramping-vus"
	Executor string `json:"executor" yaml:"executor"`

	// Exec names the iteration function (default: "default")
	Exec string `json:"exec,omitempty" yaml:"exec,omitempty"`

	// Duration of the scenario (e.g., "30s", "10m", or integer seconds).
	// Ramping scenarios take it from their stages instead.
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is the number of iterations started per TimeUnit
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit of Rate (default: "1s")
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs are created before the scenario starts
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// VUs is the initial number of looping VUs (externally-controlled)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// StartVUs is the VU count a ramping-vus scenario begins with
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Stages of a ramping-vus scenario, run in order
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// MaxVUs caps the pool size
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// IterationTimeout abandons slower iterations (optional)
	IterationTimeout string `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// Env is exposed to the iteration function
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Tags label the scenario in summaries
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Stage ramps the VU count linearly to Target over Duration.
type Stage struct {
	Duration string `json:"duration" yaml:"duration"`
	Target   int    `json:"target" yaml:"target"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
