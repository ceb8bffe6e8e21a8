// Package rate provides the arrival clock used by rate-based executors.
package rate

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// Schedule computes the due time of every tick of a fixed-rate arrival
// process.
//
// Tick n is due at start + n*interval. Due times are derived from the start
// time rather than from the previous tick, so a scheduler that falls behind
// catches up instead of accumulating drift.
//
// A Schedule is bounded by a duration: ticks whose due time is at or past
// start+duration are not part of it. For a rate r over a duration d this
// yields ceil(r*d) ticks.
//
// # Example
//
//	s := rate.NewSchedule(50, time.Second, 10*time.Second)
//	s.Start(time.Now())
//	for n := int64(0); ; n++ {
//	    if err := s.Wait(ctx, n); err != nil {
//	        break
//	    }
//	    // dispatch tick n
//	}
type Schedule struct {
	rate     float64
	timeUnit time.Duration
	interval time.Duration
	duration time.Duration
	start    time.Time

	// Metrics
	totalWaitTime atomic.Int64 // nanoseconds spent sleeping in Wait
}

// NewSchedule creates a schedule emitting rate ticks per timeUnit for
// duration. A non-positive rate or timeUnit yields an interval of one
// timeUnit (or one second).
func NewSchedule(rate float64, timeUnit, duration time.Duration) *Schedule {
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	if rate <= 0 {
		rate = 1
	}
	interval := time.Duration(float64(timeUnit) / rate)
	if interval <= 0 {
		interval = 1
	}
	return &Schedule{
		rate:     rate,
		timeUnit: timeUnit,
		interval: interval,
		duration: duration,
	}
}

// Start fixes the time of tick 0. It must be called before Due or Wait.
func (s *Schedule) Start(t time.Time) {
	s.start = t
}

// Interval returns the time between two consecutive ticks.
func (s *Schedule) Interval() time.Duration {
	return s.interval
}

// Due returns the due time of tick n.
func (s *Schedule) Due(n int64) time.Time {
	return s.start.Add(time.Duration(float64(n) * float64(s.timeUnit) / s.rate))
}

// Ticks returns the number of ticks in the schedule.
func (s *Schedule) Ticks() int64 {
	if s.duration <= 0 {
		return 0
	}
	// small epsilon so exact products like 50/s over 1s are not rounded up
	return int64(math.Ceil(s.rate*float64(s.duration)/float64(s.timeUnit) - 1e-9))
}

// Done reports whether tick n falls outside the schedule.
func (s *Schedule) Done(n int64) bool {
	return n >= s.Ticks()
}

// Late reports whether tick n dispatched at now is more than one interval
// behind its due time.
func (s *Schedule) Late(n int64, now time.Time) bool {
	return now.Sub(s.Due(n)) > s.interval
}

// Wait blocks until tick n is due or ctx is done. Overdue ticks return
// immediately.
func (s *Schedule) Wait(ctx context.Context, n int64) error {
	wait := time.Until(s.Due(n))
	if wait <= 0 {
		return ctx.Err()
	}

	s.totalWaitTime.Add(int64(wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TotalWaitTime returns the cumulative time spent waiting for ticks.
func (s *Schedule) TotalWaitTime() time.Duration {
	return time.Duration(s.totalWaitTime.Load())
}

// ExpectedTicks returns the number of ticks scheduled up to elapsed.
func (s *Schedule) ExpectedTicks(elapsed time.Duration) int64 {
	if elapsed <= 0 {
		return 0
	}
	if elapsed > s.duration {
		elapsed = s.duration
	}
	n := int64(s.rate*float64(elapsed)/float64(s.timeUnit)) + 1
	if total := s.Ticks(); n > total {
		n = total
	}
	return n
}
