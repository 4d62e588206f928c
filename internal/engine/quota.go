package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts the outline steps of one process and enforces a
// maximum. It stops runaway workchains whose loops keep making progress,
// which the stepper's idle-loop guard cannot see.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// newQuotaEnforcerAt resumes a quota from a checkpointed count.
func newQuotaEnforcerAt(maxSteps, current int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps, current: current}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(process string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Process: process,
			Steps:   q.current,
			Limit:   q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a process exceeds the max steps quota.
// The process is excepted.
type StepsExceededError struct {
	Process string
	Steps   int
	Limit   int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("process %s exceeded max steps quota: %d steps > %d limit",
		e.Process, e.Steps, e.Limit)
}

// RuntimeError converts the error for the runner's error taxonomy.
func (e *StepsExceededError) RuntimeError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStepsExceeded,
		Message: e.Error(),
		Process: e.Process,
		Details: map[string]string{
			"steps":     fmt.Sprint(e.Steps),
			"max_steps": fmt.Sprint(e.Limit),
		},
	}
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
