package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/config"
	"github.com/wesleyorama2/loadpair/internal/loadgen/control"
	"github.com/wesleyorama2/loadpair/internal/loadgen/engine"
	"github.com/wesleyorama2/loadpair/internal/target"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newTargetServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := target.NewServer(target.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func runCLI(args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const arrivalConfig = `
name: cli smoke
scenarios:
  s1:
    executor: constant-arrival-rate
    rate: ${rate}
    timeUnit: 1s
    duration: ${duration}
    preAllocatedVUs: 2
    maxVUs: 4
    exec: forecast
thresholds:
  checks: ["rate == 1"]
  http_req_failed: ["rate < 0.01"]
`

func TestRun_ArrivalRate(t *testing.T) {
	ts := newTargetServer(t)
	path := writeConfig(t, arrivalConfig)
	export := filepath.Join(t.TempDir(), "summary.json")

	out, err := runCLI("run", path, "--base-url", ts.URL, "-e", "rate=10", "-e", "duration=500ms",
		"--no-color", "--summary-export", export, "--log-level", "warn")
	require.NoError(t, err)

	assert.Contains(t, out, "cli smoke - PASSED")
	assert.Contains(t, out, "five forecasts")
	assert.Contains(t, out, "http_req_duration")
	assert.Contains(t, out, "s1 [constant-arrival-rate] exec=forecast")

	data, err := os.ReadFile(export)
	require.NoError(t, err)
	var summary engine.RunSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.True(t, summary.Passed)
	assert.InDelta(t, 5, summary.Metrics.Counters["http_reqs"], 1)
}

func TestRun_RampingVUs(t *testing.T) {
	ts := newTargetServer(t)
	path := writeConfig(t, `
name: cli ramp
scenarios:
  ramp:
    executor: ramping-vus
    exec: forecast
    stages:
      - duration: 200ms
        target: 2
      - duration: 200ms
        target: 0
`)

	out, err := runCLI("run", path, "--base-url", ts.URL, "--no-color", "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "cli ramp - PASSED")
	assert.Contains(t, out, "ramp [ramping-vus] exec=forecast")
	assert.Contains(t, out, "stage=2/2")
}

func TestRun_HelpListsExecutors(t *testing.T) {
	out, err := runCLI("run", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "constant-arrival-rate")
	assert.Contains(t, out, "externally-controlled")
	assert.Contains(t, out, "ramping-vus")
	assert.Contains(t, out, "$${VAR}")
}

func TestRun_JSONOutput(t *testing.T) {
	ts := newTargetServer(t)
	path := writeConfig(t, arrivalConfig)

	out, err := runCLI("run", path, "--base-url", ts.URL, "-e", "rate=4", "-e", "duration=500ms", "--json")
	require.NoError(t, err)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "cli smoke", summary["name"])
}

func TestRun_FailedThresholds(t *testing.T) {
	ts := newTargetServer(t)
	path := writeConfig(t, `
scenarios:
  s1:
    executor: constant-arrival-rate
    rate: 5
    duration: 400ms
    preAllocatedVUs: 1
    maxVUs: 2
    exec: root
thresholds:
  http_reqs: ["count > 1000"]
`)

	out, err := runCLI("run", path, "--base-url", ts.URL, "--no-color")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errThresholdsFailed))
	assert.Contains(t, out, "FAILED")

	assert.Equal(t, 1, execute(NewRootCmd(), []string{"run", path, "--base-url", ts.URL, "--no-color"}, &bytes.Buffer{}))
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
scenarios:
  s1:
    executor: constant-arrival-rate
    rate: 5
    duration: 1s
    preAllocatedVUs: 10
    maxVUs: 2
    exec: nope
`)
	_, err := runCLI("run", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, loadgen.ErrConfigInvalid))
	assert.Contains(t, err.Error(), "scenarios.s1.preAllocatedVUs")
	assert.Contains(t, err.Error(), "scenarios.s1.exec")

	_, err = runCLI("run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = runCLI("run", path, "-e", "novalue")
	assert.Error(t, err)
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"rate=10", "URL=http://x/?a=b", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rate": "10", "URL": "http://x/?a=b", "EMPTY": ""}, env)

	_, err = parseEnv([]string{"=x"})
	assert.Error(t, err)
}

func TestScale(t *testing.T) {
	funcs := loadgen.NewRegistry()
	funcs.MustRegister("noop", func(ctx context.Context, it *loadgen.Iteration) error { return nil })
	eng, err := engine.New(&config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{
			"s1": {Executor: "externally-controlled", Exec: "noop", VUs: 1, MaxVUs: 10, Duration: "1s"},
		},
	}, funcs)
	require.NoError(t, err)

	ts := httptest.NewServer(control.NewServer(eng))
	defer ts.Close()

	out, err := runCLI("scale", "s1", "5", "--control-addr", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "SCENARIO")
	assert.Contains(t, out, "externally-controlled")

	c, err := eng.Controllable("s1")
	require.NoError(t, err)
	assert.Equal(t, 5, c.GetTargetVUs())

	out, err = runCLI("scale", "--control-addr", ts.URL)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "s1"))

	_, err = runCLI("scale", "s1", "many", "--control-addr", ts.URL)
	assert.Error(t, err)

	_, err = runCLI("scale", "s1", "--control-addr", ts.URL)
	assert.Error(t, err)

	_, err = runCLI("scale", "s1", "50", "--control-addr", ts.URL)
	var apiErr *control.APIError
	require.True(t, errors.As(err, &apiErr))
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, setupLogging(&bytes.Buffer{}, "debug", "json"))
	assert.NoError(t, setupLogging(&bytes.Buffer{}, "info", "text"))
	assert.Error(t, setupLogging(&bytes.Buffer{}, "loud", "text"))
	assert.Error(t, setupLogging(&bytes.Buffer{}, "info", "xml"))
}
