package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every classified error matches exactly one of them with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("task not found")
	ErrAuthorization = errors.New("authorization error")
	ErrConflict      = errors.New("conflict")
	ErrBackend       = errors.New("backend error")
)

var errStatusRequired = errors.New("status is required")

func errInvalidStatus(raw string) error {
	return fmt.Errorf("invalid status %q", raw)
}

// Error is a classified failure of a task operation.
type Error struct {
	Op   string
	Kind error
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + ": " + e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind so callers can test errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// KindOf returns the kind of a classified error. Unclassified errors are
// reported as ErrBackend.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != nil {
		return de.Kind
	}
	return ErrBackend
}

// KindName is the short label used in logs and spans.
func KindName(kind error) string {
	switch kind {
	case nil:
		return ""
	case ErrValidation:
		return "validation"
	case ErrNotFound:
		return "not_found"
	case ErrAuthorization:
		return "authorization"
	case ErrConflict:
		return "conflict"
	default:
		return "backend"
	}
}

// Classify wraps err with op and id, keeping an existing classification and
// treating anything else as a backend fault.
func Classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Op: op, Kind: ErrBackend, ID: id, Err: err}
}

// NotFound builds an ErrNotFound error for id.
func NotFound(op, id string) error {
	return &Error{Op: op, Kind: ErrNotFound, ID: id}
}
