package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"10m", 10 * time.Minute, false},
		{"45", 45 * time.Second, false},
		{" 2s ", 2 * time.Second, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDurationString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfig_YAMLWithEnv(t *testing.T) {
	data := []byte(`
name: arrival
settings:
  baseUrl: ${TARGET}
  timeout: 5s
  discardResponseBodies: true
scenarios:
  s1:
    executor: constant-arrival-rate
    rate: ${rate}
    timeUnit: 1s
    duration: ${duration}
    maxVUs: ${maxuv}
    preAllocatedVUs: ${prevu}
    exec: ${function}
thresholds:
  http_req_duration: ["p(95) < 500"]
`)
	env := map[string]string{
		"TARGET":   "http://api:8080",
		"rate":     "50",
		"duration": "30s",
		"maxuv":    "100",
		"prevu":    "20",
		"function": "forecast",
	}

	cfg, err := ParseConfig(data, "test.yaml", lookupFrom(env))
	require.NoError(t, err)

	assert.Equal(t, "arrival", cfg.Name)
	assert.Equal(t, "http://api:8080", cfg.Settings.BaseURL)
	assert.Equal(t, Duration(5*time.Second), cfg.Settings.Timeout)
	assert.True(t, cfg.Settings.DiscardResponseBodies)

	require.Contains(t, cfg.Scenarios, "s1")
	s1 := cfg.Scenarios["s1"]
	assert.Equal(t, "constant-arrival-rate", s1.Executor)
	assert.Equal(t, 50.0, s1.Rate)
	assert.Equal(t, "30s", s1.Duration)
	assert.Equal(t, 100, s1.MaxVUs)
	assert.Equal(t, 20, s1.PreAllocatedVUs)
	assert.Equal(t, "forecast", s1.Exec)
	assert.Equal(t, []string{"p(95) < 500"}, cfg.Thresholds["http_req_duration"])
}

func TestParseConfig_JSON(t *testing.T) {
	data := []byte(`{
  "scenarios": {
    "s1": {"executor": "externally-controlled", "vus": 10, "maxVUs": 50, "duration": "10m", "exec": "function1"}
  },
  "settings": {"timeout": "2s"},
  "summaryTrendStats": ["avg", "p(99)"]
}`)

	cfg, err := ParseConfig(data, "test.json", nil)
	require.NoError(t, err)

	s1 := cfg.Scenarios["s1"]
	require.NotNil(t, s1)
	assert.Equal(t, 10, s1.VUs)
	assert.Equal(t, 50, s1.MaxVUs)
	assert.Equal(t, Duration(2*time.Second), cfg.Settings.Timeout)
	assert.Equal(t, []string{"avg", "p(99)"}, cfg.SummaryTrendStats)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte(`{not json`), "x.json", nil)
	assert.Error(t, err)

	_, err = ParseConfig([]byte("scenarios: [unclosed"), "x.yaml", nil)
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  s1:
    executor: externally-controlled
    vus: ${LOADPAIR_TEST_VUS}
    maxVUs: 5
    duration: 1m
`), 0o644))
	t.Setenv("LOADPAIR_TEST_VUS", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scenarios["s1"].VUs)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestInterpolate(t *testing.T) {
	env := lookupFrom(map[string]string{"A": "1", "B": "two", "EMPTY": ""})

	tests := []struct {
		in   string
		want string
	}{
		{"${A}-${B}", "1-two"},
		{"x${EMPTY}y", "xy"},
		{"Bearer ab$cd", "Bearer ab$cd"},
		{"$5", "$5"},
		{"$A and $", "$A and $"},
		{"$${A} is ${A}", "${A} is 1"},
		{"${A", "${A"},
	}
	for _, tt := range tests {
		got, err := Interpolate(tt.in, env)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Interpolate("${A}-${MISSING}-${OTHER}-${MISSING}", env)
	require.Error(t, err)
	assert.ErrorIs(t, err, loadgen.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "MISSING, OTHER")
}

func TestParseConfig_LiteralDollarSurvives(t *testing.T) {
	data := []byte(`
settings:
  headers:
    Authorization: "Bearer ab$cd"
    X-Price: "$5"
scenarios:
  s1:
    executor: externally-controlled
    vus: 1
    duration: 1m
    env:
      TEMPLATE: "$${HOST}/path"
`)

	cfg, err := ParseConfig(data, "run.yaml", lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer ab$cd", "X-Price": "$5"}, cfg.Settings.Headers)
	assert.Equal(t, "${HOST}/path", cfg.Scenarios["s1"].Env["TEMPLATE"])

	_, err = ParseConfig([]byte("scenarios: {}\nname: ${UNSET_NAME}\n"), "run.yaml", lookupFrom(nil))
	assert.ErrorIs(t, err, loadgen.ErrConfigInvalid)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &TestConfig{
		Settings: GlobalSettings{BaseURL: "http://host/"},
		Scenarios: map[string]*ScenarioConfig{
			"rate":    {Executor: "constant-arrival-rate", Rate: 1, Duration: "1s", PreAllocatedVUs: 4},
			"ext":     {Executor: "externally-controlled", VUs: 7, Duration: "1s"},
			"keep":    {Executor: "constant-arrival-rate", Rate: 1, Duration: "1s", PreAllocatedVUs: 10, MaxVUs: 5},
			"nilsafe": nil,
		},
	}

	ApplyDefaults(cfg)

	assert.Equal(t, DefaultSummaryTrendStats, cfg.SummaryTrendStats)
	assert.Equal(t, "http://host", cfg.Settings.BaseURL)
	assert.Equal(t, Duration(30*time.Second), cfg.Settings.Timeout)

	assert.Equal(t, 4, cfg.Scenarios["rate"].MaxVUs)
	assert.Equal(t, "1s", cfg.Scenarios["rate"].TimeUnit)
	assert.Equal(t, DefaultExec, cfg.Scenarios["rate"].Exec)
	assert.Equal(t, 7, cfg.Scenarios["ext"].MaxVUs)
	// an explicit maxVUs below preAllocatedVUs is left for Validate to reject
	assert.Equal(t, 5, cfg.Scenarios["keep"].MaxVUs)
}

func TestGlobalSettings_HTTPClientConfig(t *testing.T) {
	s := GlobalSettings{
		Timeout:               Duration(3 * time.Second),
		MaxIdleConnsPerHost:   7,
		MaxConnectionsPerHost: 9,
		InsecureSkipVerify:    true,
		UserAgent:             "k6",
		Headers:               map[string]string{"X-A": "b"},
	}

	cfg := s.HTTPClientConfig()
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 7, cfg.MaxIdleConnsPerHost)
	assert.Equal(t, 9, cfg.MaxConnsPerHost)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, "k6", cfg.UserAgent)
	assert.Equal(t, "b", cfg.Headers["X-A"])

	def := GlobalSettings{}.HTTPClientConfig()
	assert.Equal(t, 30*time.Second, def.Timeout)
	assert.Equal(t, "loadpair/1.0", def.UserAgent)
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m"`)))
	assert.Equal(t, Duration(time.Minute), d)

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, Duration(0), d)

	assert.Error(t, d.UnmarshalJSON([]byte(`"later"`)))

	b, err := Duration(1500 * time.Millisecond).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))
}
