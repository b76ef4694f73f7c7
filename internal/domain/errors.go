package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrArtifactNotFound is returned by artifact stores when no trained
	// model has been persisted under the requested name.
	ErrArtifactNotFound = errors.New("model artifact not found")

	ErrUnknownAddress = errors.New("unknown source address")
	ErrEmptyBatch     = errors.New("empty batch")
)

// InputError marks a malformed request payload. Transports reject it and
// never retry.
type InputError struct {
	Reason string
	Err    error
}

func NewInputError(format string, args ...any) *InputError {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

func WrapInputError(err error, format string, args ...any) *InputError {
	return &InputError{Reason: fmt.Sprintf(format, args...), Err: err}
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return "invalid input: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid input: " + e.Reason
}

func (e *InputError) Unwrap() error { return e.Err }

// IsInputError reports whether err is, or wraps, an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
