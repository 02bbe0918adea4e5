// Package faults defines the error taxonomy shared by the dispatcher.
//
// Three kinds of structured faults exist:
//   - FatalError: a hardware-protection trip or broken internal bookkeeping.
//     It aborts the current job and, per server policy, the whole process.
//   - StateMachineError: a job state machine entered a state it must never
//     enter. It always indicates a bug.
//   - RequestError: the request cannot be served (for example no pool
//     matches its target). The job never occupies a board.
//
// A device that does not answer in time is not a fault at all; device
// handlers report it through a (output, ok=false) result.
package faults

import (
	"errors"
	"fmt"
)

// Kind names a fault category. It is used in response texts and metrics.
type Kind string

const (
	KindFatal        Kind = "FatalError"
	KindStateMachine Kind = "StateMachineError"
	KindRequest      Kind = "RequestError"
	KindUnknown      Kind = "Error"
)

// FatalError is an unrecoverable condition.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// StateMachineError reports an illegal state entry.
type StateMachineError struct {
	err error
}

func (e *StateMachineError) Error() string { return e.err.Error() }
func (e *StateMachineError) Unwrap() error { return e.err }

// RequestError reports a request that cannot be served.
type RequestError struct {
	err error
}

func (e *RequestError) Error() string { return e.err.Error() }
func (e *RequestError) Unwrap() error { return e.err }

// Fatalf formats a FatalError. The %w verb is supported.
func Fatalf(format string, args ...any) error {
	return &FatalError{err: fmt.Errorf(format, args...)}
}

// StateMachinef formats a StateMachineError. The %w verb is supported.
func StateMachinef(format string, args ...any) error {
	return &StateMachineError{err: fmt.Errorf(format, args...)}
}

// Requestf formats a RequestError. The %w verb is supported.
func Requestf(format string, args ...any) error {
	return &RequestError{err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsStateMachine reports whether err carries a StateMachineError.
func IsStateMachine(err error) bool {
	var target *StateMachineError
	return errors.As(err, &target)
}

// IsRequest reports whether err carries a RequestError.
func IsRequest(err error) bool {
	var target *RequestError
	return errors.As(err, &target)
}

// KindOf classifies err. Fatal wins over the other kinds when several are
// wrapped together.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsFatal(err):
		return KindFatal
	case IsStateMachine(err):
		return KindStateMachine
	case IsRequest(err):
		return KindRequest
	default:
		return KindUnknown
	}
}

// ResponseText renders err as the text answered to a requester.
func ResponseText(err error) string {
	kind := KindOf(err)
	switch kind {
	case KindFatal:
		return fmt.Sprintf("%s\n%s\n\nFatal Exception\nSwitching off device\nDisable server", kind, err)
	case KindStateMachine:
		return fmt.Sprintf("%s\n%s\n\n\nStatemachine failed", kind, err)
	default:
		return fmt.Sprintf("%s\n%s\nrequest terminated", kind, err)
	}
}
