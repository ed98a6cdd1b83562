// Package apperr defines the error kinds surfaced by the booking service.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidRange    Kind = "invalid_range"
	KindValidation      Kind = "validation_error"
	KindUnsupportedType Kind = "unsupported_type"
	KindUnavailable     Kind = "unavailable"
	KindSlotConflict    Kind = "slot_conflict"
	KindInternal        Kind = "internal"
)

// Error is a classified failure. ConflictID names the scheduled appointment that blocked a
// booking when Kind is KindSlotConflict and the blocker is known.
type Error struct {
	Kind       Kind
	Message    string
	ConflictID string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind so callers can write errors.Is(err, apperr.NotFound("")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidRange(format string, args ...any) *Error {
	return New(KindInvalidRange, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func UnsupportedType(format string, args ...any) *Error {
	return New(KindUnsupportedType, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}

func SlotConflict(conflictID string, format string, args ...any) *Error {
	e := New(KindSlotConflict, format, args...)
	e.ConflictID = conflictID
	return e
}

// KindOf reports the kind of err, KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
