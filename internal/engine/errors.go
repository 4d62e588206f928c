package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error raised by the runner itself rather than by
// process code.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Process is the uuid of the affected process, if any.
	Process string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownProcess indicates no definition is registered under a name.
	ErrCodeUnknownProcess RuntimeErrorCode = "UNKNOWN_PROCESS"

	// ErrCodeProcessNotFound indicates no live process has the uuid.
	ErrCodeProcessNotFound RuntimeErrorCode = "PROCESS_NOT_FOUND"

	// ErrCodeInvalidState indicates an operation the process state forbids.
	ErrCodeInvalidState RuntimeErrorCode = "INVALID_STATE"

	// ErrCodeStepsExceeded indicates a process ran more steps than allowed.
	ErrCodeStepsExceeded RuntimeErrorCode = "STEPS_EXCEEDED"

	// ErrCodeCheckpointCorrupt indicates a stored checkpoint cannot be restored.
	ErrCodeCheckpointCorrupt RuntimeErrorCode = "CHECKPOINT_CORRUPT"

	// ErrCodeStopped indicates the runner no longer accepts events.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Process != "" {
		return fmt.Sprintf("%s: %s (process=%s)", e.Code, e.Message, e.Process)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRuntimeError reports whether err is a RuntimeError with the given code.
func IsRuntimeError(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsQuotaError returns true if the error is a steps exceeded error.
// Matches both RuntimeError with ErrCodeStepsExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	if IsRuntimeError(err, ErrCodeStepsExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

func unknownProcess(name string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeUnknownProcess, Message: fmt.Sprintf("no process registered as %q", name)}
}

func processNotFound(id string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeProcessNotFound, Message: "no live process", Process: id}
}

func invalidState(id, msg string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeInvalidState, Message: msg, Process: id}
}

func checkpointCorrupt(id string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCheckpointCorrupt,
		Message: "cannot restore checkpoint",
		Process: id,
		Details: map[string]string{"cause": err.Error()},
	}
}

func errStopped(id string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeStopped, Message: "runner stopped", Process: id}
}
