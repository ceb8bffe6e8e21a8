package loadgen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIteration_RecordsIntoVUShard(t *testing.T) {
	vu := NewVirtualUser(1, nil)

	it := NewIteration("s1", vu)
	assert.Equal(t, int64(1), it.Number)
	assert.Same(t, vu, it.VU())
	assert.NotNil(t, it.HTTPClient())

	assert.True(t, it.Check("ok", true))
	assert.False(t, it.Check("bad", false))
	it.Record("custom", 3)
	it.Add("bytes", 10)

	passed, failed := it.Checks()
	assert.Equal(t, int64(1), passed)
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, 10.0, vu.Metrics.Counter("bytes"))
	assert.Equal(t, int64(1), vu.Metrics.Trend("custom").Count())
	assert.Equal(t, int64(1), vu.Checks.Get("bad").Fails)

	assert.Equal(t, int64(2), NewIteration("s1", vu).Number)
}

func TestIteration_Group(t *testing.T) {
	vu := NewVirtualUser(1, nil)
	it := NewIteration("s1", vu)

	boom := errors.New("boom")
	err := it.Group("testing root", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "group_duration{group:::testing root}", GroupMetric("testing root"))
	assert.Equal(t, int64(1), vu.Metrics.Trend(GroupMetric("testing root")).Count())
}

func TestIteration_Getenv(t *testing.T) {
	it := NewIteration("s1", NewVirtualUser(1, nil))
	assert.Equal(t, "def", it.Getenv("URL", "def"))

	it.Env = map[string]string{"URL": "http://x", "EMPTY": ""}
	assert.Equal(t, "http://x", it.Getenv("URL", "def"))
	assert.Equal(t, "def", it.Getenv("EMPTY", "def"))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, *Iteration) error { return nil }

	require.NoError(t, reg.Register("b", noop))
	require.NoError(t, reg.Register("a", noop))
	assert.Error(t, reg.Register("a", noop))
	assert.Error(t, reg.Register("", noop))
	assert.Error(t, reg.Register("nil", nil))

	_, ok := reg.Lookup("a")
	assert.True(t, ok)
	_, ok = reg.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.Panics(t, func() { reg.MustRegister("a", noop) })
}

func TestIterationResult_Failed(t *testing.T) {
	assert.False(t, IterationResult{}.Failed())
	assert.True(t, IterationResult{TimedOut: true}.Failed())
	assert.True(t, IterationResult{Err: errors.New("x")}.Failed())
}

func TestFatalError(t *testing.T) {
	err := &FatalError{Scenario: "s1", Err: errors.New("cannot create VU")}
	assert.Equal(t, `scenario "s1": cannot create VU`, err.Error())
	assert.ErrorIs(t, err, ErrExecutorFatal)
}
