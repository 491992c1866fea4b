package store

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the ledger wraps exactly one of them.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrPermission  = errors.New("permission denied")
	ErrConsistency = errors.New("consistency error")
	ErrState       = errors.New("state error")
)

var (
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrConsistency)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrConsistency)
	ErrDuplicate         = fmt.Errorf("%w: duplicate", ErrConsistency)
	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrState)
	ErrReferenced        = fmt.Errorf("%w: still referenced", ErrState)
)

type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindPermission  ErrorKind = "permission"
	KindConsistency ErrorKind = "consistency"
	KindState       ErrorKind = "state"
	KindInternal    ErrorKind = "internal"
)

func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPermission):
		return KindPermission
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	case errors.Is(err, ErrState):
		return KindState
	}
	return KindInternal
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

func Statef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

// Wrapf attaches detail to one of the sentinel errors above.
func Wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
