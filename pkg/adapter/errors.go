package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure. Its string form is the envelope "type".
type Kind string

const (
	KindInvalidInput      Kind = "InvalidInput"
	KindValidationFailed  Kind = "ValidationFailed"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindEngineUnavailable Kind = "EngineUnavailable"
	KindCancelled         Kind = "Cancelled"
	KindInternalFailure   Kind = "InternalFailure"
)

// Error is a classified adapter failure.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Params  map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a classified error with formatting.
func Errorf(kind Kind, format string, a ...interface{}) *Error {
	return NewError(kind, fmt.Sprintf(format, a...))
}

// Wrap classifies err, keeping it as the cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithField records the offending request field.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithParam sets a single error param.
func (e *Error) WithParam(key string, value interface{}) *Error {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// InvalidInputf reports malformed input.
func InvalidInputf(format string, a ...interface{}) *Error {
	return Errorf(KindInvalidInput, format, a...)
}

// ValidationFailedf reports a well-formed request that breaks a rule.
func ValidationFailedf(format string, a ...interface{}) *Error {
	return Errorf(KindValidationFailed, format, a...)
}

// NotFoundf reports a missing named resource.
func NotFoundf(format string, a ...interface{}) *Error {
	return Errorf(KindNotFound, format, a...)
}

// Conflictf reports a resource that already exists or is locked.
func Conflictf(format string, a ...interface{}) *Error {
	return Errorf(KindConflict, format, a...)
}

// Unavailable wraps a failure of an external collaborator.
func Unavailable(err error, format string, a ...interface{}) *Error {
	return Wrap(KindEngineUnavailable, err, fmt.Sprintf(format, a...))
}

// Internalf reports a bug or an unexpected state.
func Internalf(format string, a ...interface{}) *Error {
	return Errorf(KindInternalFailure, format, a...)
}

// KindOf classifies any error. Context cancellation and deadline map to
// Cancelled unless an explicit kind is already attached.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != "" {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternalFailure
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Envelope is the failure document written to stdout.
type Envelope struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Type   string `json:"type"`
}

// NewEnvelope builds the failure document for err.
func NewEnvelope(err error) Envelope {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Envelope{Status: StatusError, Error: msg, Type: string(KindOf(err))}
}
