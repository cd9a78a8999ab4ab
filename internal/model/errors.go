package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure category used to decide retry and propagation.
type ErrorKind string

const (
	ErrValidation        ErrorKind = "validation"
	ErrNetwork           ErrorKind = "network"
	ErrParse             ErrorKind = "parse"
	ErrExtraction        ErrorKind = "extraction"
	ErrValidationFailure ErrorKind = "validation_failure"
	ErrConfiguration     ErrorKind = "configuration"
	ErrCancelled         ErrorKind = "cancelled"
)

// KindError attaches an ErrorKind to an underlying error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind. A nil err yields nil.
func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Errorf builds a KindError from a format string.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost ErrorKind in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

// IsFatal reports whether err must abort the whole session.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case ErrValidation, ErrConfiguration:
		return true
	default:
		return false
	}
}
