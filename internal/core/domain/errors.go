package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by an engine operation wraps exactly one
// of these so callers can classify it with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrForbidden    = errors.New("forbidden")
)

// Auth errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
)

func Validationf(format string, args ...interface{}) error {
	return kindf(ErrValidation, format, args...)
}

func InvalidStatef(format string, args ...interface{}) error {
	return kindf(ErrInvalidState, format, args...)
}

func Conflictf(format string, args ...interface{}) error {
	return kindf(ErrConflict, format, args...)
}

func NotFoundf(format string, args ...interface{}) error {
	return kindf(ErrNotFound, format, args...)
}

func Duplicatef(format string, args ...interface{}) error {
	return kindf(ErrDuplicate, format, args...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return kindf(ErrForbidden, format, args...)
}

func kindf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the error kind wrapped by err, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrInvalidState, ErrConflict, ErrNotFound, ErrDuplicate, ErrForbidden} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
