package launcher

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchTimeout is returned when the browser does not announce its endpoint in time.
	ErrLaunchTimeout = errors.New("timed out waiting for browser to announce its debugging endpoint")
	// ErrAlreadyLaunched is returned by a second call to Launch.
	ErrAlreadyLaunched = errors.New("launcher has already been used")
	// ErrClosed is returned to a pending Launch when Close is called first.
	ErrClosed = errors.New("launcher closed")
	// ErrExecutableNotFound is returned when no browser executable can be located.
	ErrExecutableNotFound = errors.New("browser executable not found")
)

// LaunchIOError is returned when the browser cannot be started or its output ends or fails
// before the endpoint is announced.
type LaunchIOError struct {
	Err error
	// Output is the stderr text read before the failure, useful for diagnosing crashes.
	Output string
}

func (e *LaunchIOError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("launching browser: %s (output: %q)", e.Err, e.Output)
	}
	return fmt.Sprintf("launching browser: %s", e.Err)
}

func (e *LaunchIOError) Unwrap() error {
	return e.Err
}
