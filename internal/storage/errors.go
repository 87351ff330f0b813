package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey reports a uniqueness violation on a natural or primary key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConstraint reports any other integrity violation (foreign key, not null,
	// check). It is never recoverable by the loader.
	ErrConstraint = errors.New("constraint violation")
)

// StatementError wraps a driver error raised while running op.
//
// errors.Is(err, ErrDuplicateKey) / errors.Is(err, ErrConstraint) work through
// it when the backend classified the failure; Unwrap also exposes the driver
// error for errors.As.
type StatementError struct {
	Op    Op
	Err   error
	class error
}

// NewStatementError wraps err for op. class is ErrDuplicateKey, ErrConstraint
// or nil when the backend could not classify the failure.
func NewStatementError(op Op, class error, err error) *StatementError {
	return &StatementError{Op: op, Err: err, class: class}
}

func (e *StatementError) Error() string {
	if e.class != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.class, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StatementError) Unwrap() []error {
	if e.class == nil {
		return []error{e.Err}
	}
	return []error{e.class, e.Err}
}

// Classifier maps a backend driver error to ErrDuplicateKey, ErrConstraint or
// nil (unclassified).
type Classifier func(err error) error

// Wrap is a helper for backends: it returns nil for a nil err and otherwise a
// classified *StatementError.
func Wrap(op Op, classify Classifier, err error) error {
	if err == nil {
		return nil
	}
	var class error
	if classify != nil {
		class = classify(err)
	}
	return NewStatementError(op, class, err)
}
