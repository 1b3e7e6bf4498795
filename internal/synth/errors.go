package synth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed generate call.
type ErrorKind string

const (
	// KindInvalidRequest means the caller supplied unusable parameters.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindSynthesisFailed means the model raised during a synthesis pass.
	KindSynthesisFailed ErrorKind = "synthesis_failed"
	// KindUnavailable means the worker could not be reached at all.
	KindUnavailable ErrorKind = "unavailable"
)

// GenerateError is the failure half of a generate result. It crosses the
// worker process boundary as an HTTP status plus the message.
type GenerateError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GenerateError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *GenerateError) Unwrap() error {
	return e.Err
}

// Errorf builds a GenerateError of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *GenerateError {
	err := fmt.Errorf(format, args...)
	return &GenerateError{Kind: kind, Message: err.Error(), Err: errors.Unwrap(err)}
}

// KindOf extracts the kind of err, defaulting to KindSynthesisFailed.
func KindOf(err error) ErrorKind {
	var gerr *GenerateError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindSynthesisFailed
}
