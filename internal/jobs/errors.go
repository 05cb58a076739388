package jobs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the upload or job does not exist for the caller.
var ErrNotFound = errors.New("not found")

// ValidationError reports a request field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InternalError is a failure the caller cannot fix. Msg is safe to show to
// clients; Err carries the cause for logs.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }
