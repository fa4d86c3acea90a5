package recognition

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive indicates Start was called while a recognition pass is running.
	ErrAlreadyActive = errors.New("recognition already active")
	// ErrUnavailable indicates no recognizer engine is wired on this platform.
	ErrUnavailable = errors.New("speech recognition unavailable")
)

// ErrorKind classifies recognizer failures for restart policy.
type ErrorKind string

const (
	ErrorPermissionDenied   ErrorKind = "permission-denied"
	ErrorServiceUnavailable ErrorKind = "service-unavailable"
	ErrorNoSpeech           ErrorKind = "no-speech"
	ErrorNetwork            ErrorKind = "network-transient"
	ErrorAborted            ErrorKind = "aborted"
	ErrorUnknown            ErrorKind = "unknown"
)

// Fatal reports whether the kind must abort the session instead of allowing a restart.
func (k ErrorKind) Fatal() bool {
	return k == ErrorPermissionDenied || k == ErrorServiceUnavailable
}

// Error is a classified recognizer failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recognition error: %s", e.Kind)
	}
	return fmt.Sprintf("recognition error: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Classify maps an arbitrary stream failure onto an Error.
// Engines return *Error when they know better.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var recErr *Error
	if errors.As(err, &recErr) {
		return recErr
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewError(ErrorAborted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrorNetwork, err)
	default:
		return NewError(ErrorUnknown, err)
	}
}
