package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/config"
)

func TestConvertScenarioConfig(t *testing.T) {
	sc := &config.ScenarioConfig{
		Executor:         "constant-arrival-rate",
		Rate:             30,
		TimeUnit:         "1m",
		Duration:         "90",
		PreAllocatedVUs:  5,
		IterationTimeout: "2s",
		Env:              map[string]string{"URL": "http://x"},
	}

	cfg, err := ConvertScenarioConfig("s1", sc)
	require.NoError(t, err)

	assert.Equal(t, "s1", cfg.Name)
	assert.Equal(t, TypeConstantArrivalRate, cfg.Type)
	assert.Equal(t, config.DefaultExec, cfg.Exec)
	assert.Equal(t, time.Minute, cfg.TimeUnit)
	assert.Equal(t, 90*time.Second, cfg.Duration)
	assert.Equal(t, 2*time.Second, cfg.IterationTimeout)
	assert.Equal(t, 5, cfg.MaxVUs)
	assert.InDelta(t, 0.5, cfg.TargetRate(), 1e-9)
	assert.Equal(t, "http://x", cfg.Env["URL"])

	_, err = ConvertScenarioConfig("bad", &config.ScenarioConfig{Executor: "constant-arrival-rate", Duration: "soon"})
	assert.Error(t, err)

	_, err = ConvertScenarioConfig("nil", nil)
	assert.Error(t, err)
}

func TestCreateExecutorFromScenarioConfig(t *testing.T) {
	exec, cfg, err := CreateExecutorFromScenarioConfig(context.Background(), "s2", &config.ScenarioConfig{
		Executor: "externally-controlled",
		VUs:      10,
		MaxVUs:   50,
		Duration: "10m",
		Exec:     "function1",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeExternallyControlled, exec.Type())
	assert.Equal(t, "function1", cfg.Exec)

	_, ok := exec.(Controllable)
	assert.True(t, ok)

	_, _, err = CreateExecutorFromScenarioConfig(context.Background(), "s3", &config.ScenarioConfig{
		Executor:        "constant-arrival-rate",
		Rate:            1,
		Duration:        "1s",
		PreAllocatedVUs: 10,
		MaxVUs:          5,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, loadgen.ErrConfigInvalid)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{Type: TypeExternallyControlled, Duration: time.Second, MaxVUs: 1, IterationTimeout: -1}
	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "iterationTimeout", verr.Field)
	assert.ErrorIs(t, err, loadgen.ErrConfigInvalid)

	for _, unit := range []time.Duration{0, -time.Second} {
		cfg := &Config{Type: TypeConstantArrivalRate, Rate: 1, TimeUnit: unit, Duration: time.Second, MaxVUs: 1}
		err := cfg.Validate()
		require.ErrorAs(t, err, &verr, "timeUnit=%v", unit)
		assert.Equal(t, "timeUnit", verr.Field)
	}

	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Type: "nope", Duration: time.Second}).Validate())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(9).String())
}
