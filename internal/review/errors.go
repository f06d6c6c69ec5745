package review

import (
	stderrors "errors"
	"fmt"
)

// ErrNotFound is returned when no review exists for an id
var ErrNotFound = stderrors.New("review not found")

// ValidationError reports a request the caller must fix. Retrying the same
// request never helps.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransientStoreError wraps a persistence failure that may succeed on retry
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("review store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientStoreError for op
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Op: op, Err: err}
}

// IsValidation reports whether err is, or wraps, a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}

// IsTransient reports whether err is, or wraps, a TransientStoreError
func IsTransient(err error) bool {
	var te *TransientStoreError
	return stderrors.As(err, &te)
}
