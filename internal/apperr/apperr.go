// Package apperr holds the typed failures returned by the lifecycle engine
// and the messaging gateway. Callers match kinds with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation_error")
	ErrPreconditionFailed   = errors.New("precondition_failed")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrDuplicateApplication = errors.New("duplicate_application")
	ErrTuitionAlreadyHired  = errors.New("tuition_already_hired")
	ErrInvalidRange         = errors.New("invalid_range")
	ErrInThePast            = errors.New("in_the_past")
	ErrEmptyMessage         = errors.New("empty_message")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("not_found")
	ErrUnavailable          = errors.New("unavailable")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Error carries the kind of failure plus a human readable reason.
type Error struct {
	Op      string
	Kind    error
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func (e *Error) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// New creates an error of the given kind.
func New(op string, kind error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Message: msg}
}

// Wrap attaches kind and context to an underlying error.
func Wrap(op string, kind error, msg string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: msg, Err: err}
}

// Validation builds an ErrValidation error listing the offending fields.
func Validation(op string, fields ...FieldError) *Error {
	msg := "invalid input"
	if len(fields) == 1 {
		msg = fields[0].Field + " " + fields[0].Error
	}
	return &Error{Op: op, Kind: ErrValidation, Message: msg, Fields: fields}
}

// NotFound is shorthand for a missing entity.
func NotFound(op, entity string) *Error {
	return New(op, ErrNotFound, entity+" not found")
}

// KindOf returns the sentinel kind of err, or nil for untyped errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Details returns the message and field errors of a typed error.
func Details(err error) (string, []FieldError) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, e.Fields
	}
	return err.Error(), nil
}

var kinds = []error{
	ErrValidation,
	ErrPreconditionFailed,
	ErrInvalidTransition,
	ErrDuplicateApplication,
	ErrTuitionAlreadyHired,
	ErrInvalidRange,
	ErrInThePast,
	ErrEmptyMessage,
	ErrUnauthorized,
	ErrNotFound,
	ErrUnavailable,
}
