// Package loadgen contains the building blocks shared by every executor:
// virtual users, the pool that hands them out, and the iteration contract.
package loadgen

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned by Pool.Acquire when every virtual user
	// is busy and the pool is already at its maximum size. It is not fatal:
	// the caller records a dropped iteration.
	ErrPoolExhausted = errors.New("virtual-user pool exhausted")

	// ErrExecutorFatal marks errors after which a scenario cannot proceed.
	ErrExecutorFatal = errors.New("executor fatal error")

	// ErrConfigInvalid marks configuration errors detected before a run.
	ErrConfigInvalid = errors.New("invalid configuration")
)

// FatalError reports a scenario that terminated abnormally.
type FatalError struct {
	Scenario string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("scenario %q: %v", e.Scenario, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Is makes every FatalError match ErrExecutorFatal.
func (e *FatalError) Is(target error) bool {
	return target == ErrExecutorFatal
}
