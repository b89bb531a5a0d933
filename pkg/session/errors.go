package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned for a reference that is not a finite number.
	// No I/O happens.
	ErrInvalidInput = errors.New("reference must be a finite number")
	// ErrNotConnected is returned when the link is not open. Nothing is written.
	ErrNotConnected = errors.New("link not connected")
	// ErrTimeout is returned when no terminator line arrived within the
	// session timeout. Partial samples are discarded.
	ErrTimeout = errors.New("timed out waiting for device response")
)

// LinkWriteError wraps a failure to send the reference value.
type LinkWriteError struct {
	Err error
}

func (e *LinkWriteError) Error() string { return fmt.Sprintf("failed to send reference: %v", e.Err) }
func (e *LinkWriteError) Unwrap() error { return e.Err }

// LinkReadError wraps a transport failure while collecting the response.
type LinkReadError struct {
	Err error
}

func (e *LinkReadError) Error() string {
	return fmt.Sprintf("failed to read device response: %v", e.Err)
}
func (e *LinkReadError) Unwrap() error { return e.Err }

// IncompleteResponseError is returned when a terminator arrived but mandatory
// fields were missing.
type IncompleteResponseError struct {
	Missing []string
}

func (e *IncompleteResponseError) Error() string {
	return fmt.Sprintf("incomplete device response, missing: %s", strings.Join(e.Missing, ", "))
}
