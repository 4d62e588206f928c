package process

import (
	"errors"
	"fmt"
)

// ExitError finishes a process with a declared non-zero exit code. Any
// other error returned from process code makes the process excepted.
type ExitError struct {
	Code ExitCode
}

func (e *ExitError) Error() string {
	if e.Code.Message == "" {
		return fmt.Sprintf("exit %d %s", e.Code.Status, e.Code.Label)
	}
	return fmt.Sprintf("exit %d %s: %s", e.Code.Status, e.Code.Label, e.Code.Message)
}

// ExitWith returns an error that finishes the process with code.
func ExitWith(code ExitCode) error {
	return &ExitError{Code: code}
}

// AsExit extracts the exit code carried by err.
func AsExit(err error) (ExitCode, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return ExitCode{}, false
}
