package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)
	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check("p-1"), "step %d should be allowed", i+1)
	}
	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxSteps())
}

func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(2)
	require.NoError(t, q.Check("p-1"))
	require.NoError(t, q.Check("p-1"))

	err := q.Check("p-1")
	require.Error(t, err)
	assert.True(t, IsStepsExceededError(err))
	assert.True(t, IsQuotaError(err))
	assert.Equal(t, "process p-1 exceeded max steps quota: 3 steps > 2 limit", err.Error())

	re := err.(*StepsExceededError).RuntimeError()
	assert.Equal(t, ErrCodeStepsExceeded, re.Code)
	assert.Equal(t, "2", re.Details["max_steps"])
	assert.True(t, IsQuotaError(fmt.Errorf("wrapped: %w", re)))
}

func TestQuotaEnforcer_ResumesFromCheckpoint(t *testing.T) {
	q := newQuotaEnforcerAt(3, 3)
	assert.True(t, IsStepsExceededError(q.Check("p-1")))
}

func TestRuntimeError_Format(t *testing.T) {
	assert.Equal(t, "PROCESS_NOT_FOUND: no live process (process=abc)", processNotFound("abc").Error())
	assert.Equal(t, `UNKNOWN_PROCESS: no process registered as "x"`, unknownProcess("x").Error())
	assert.True(t, IsRuntimeError(fmt.Errorf("w: %w", invalidState("a", "b")), ErrCodeInvalidState))
	assert.False(t, IsRuntimeError(assert.AnError, ErrCodeInvalidState))
}
