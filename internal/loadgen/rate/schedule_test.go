package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Interval(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		unit     time.Duration
		expected time.Duration
	}{
		{"50 per second", 50, time.Second, 20 * time.Millisecond},
		{"1 per second", 1, time.Second, time.Second},
		{"30 per minute", 30, time.Minute, 2 * time.Second},
		{"zero unit defaults to second", 10, 0, 100 * time.Millisecond},
		{"zero rate defaults to one", 0, time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSchedule(tt.rate, tt.unit, time.Second)
			assert.Equal(t, tt.expected, s.Interval())
		})
	}
}

func TestSchedule_Ticks(t *testing.T) {
	tests := []struct {
		rate     float64
		duration time.Duration
		expected int64
	}{
		{50, time.Second, 50},
		{3, time.Second, 3},
		{3, 1500 * time.Millisecond, 5}, // ceil(4.5)
		{10, 0, 0},
		{1, 10 * time.Second, 10},
	}

	for _, tt := range tests {
		s := NewSchedule(tt.rate, time.Second, tt.duration)
		assert.Equal(t, tt.expected, s.Ticks(), "rate=%v duration=%v", tt.rate, tt.duration)
		assert.True(t, s.Done(tt.expected))
	}
}

func TestSchedule_DueHasNoDrift(t *testing.T) {
	s := NewSchedule(3, time.Second, time.Hour)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Start(start)

	assert.Equal(t, start, s.Due(0))
	assert.Equal(t, start.Add(333333333), s.Due(1))
	// derived from start, not accumulated from a truncated interval
	assert.Equal(t, start.Add(1000*time.Second), s.Due(3000))
}

func TestSchedule_Late(t *testing.T) {
	s := NewSchedule(10, time.Second, time.Second)
	start := time.Now()
	s.Start(start)

	assert.False(t, s.Late(1, start.Add(100*time.Millisecond)))
	assert.False(t, s.Late(1, start.Add(200*time.Millisecond)))
	assert.True(t, s.Late(1, start.Add(201*time.Millisecond)))
}

func TestSchedule_WaitOverdueReturnsImmediately(t *testing.T) {
	s := NewSchedule(1, time.Second, time.Minute)
	s.Start(time.Now().Add(-10 * time.Second))

	begin := time.Now()
	require.NoError(t, s.Wait(context.Background(), 3))
	assert.Less(t, time.Since(begin), 50*time.Millisecond)
}

func TestSchedule_WaitSleepsUntilDue(t *testing.T) {
	s := NewSchedule(20, time.Second, time.Second)
	s.Start(time.Now())

	begin := time.Now()
	require.NoError(t, s.Wait(context.Background(), 2))
	assert.GreaterOrEqual(t, time.Since(begin), 90*time.Millisecond)
	assert.Greater(t, s.TotalWaitTime(), time.Duration(0))
}

func TestSchedule_WaitCancelled(t *testing.T) {
	s := NewSchedule(1, time.Minute, time.Hour)
	s.Start(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	begin := time.Now()
	err := s.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestSchedule_ExpectedTicks(t *testing.T) {
	s := NewSchedule(10, time.Second, time.Second)

	assert.Equal(t, int64(0), s.ExpectedTicks(0))
	assert.Equal(t, int64(1), s.ExpectedTicks(time.Millisecond))
	assert.Equal(t, int64(6), s.ExpectedTicks(500*time.Millisecond))
	assert.Equal(t, int64(10), s.ExpectedTicks(5*time.Second))
}
