package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownOperationType   = errors.New("unknown operation type")
	ErrMissingOperation       = errors.New("operation not found")
	ErrDivisionUndefined      = errors.New("division undefined: zero baseline")
	ErrMalformedReferenceData = errors.New("malformed reference data")
	ErrClosureBlocked         = errors.New("closure blocked")
	ErrReadOnly               = errors.New("record source is read-only")
	ErrInvalidInput           = errors.New("invalid input")
)

// Invalidf wraps ErrInvalidInput with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ClosureBlockedError lists the checklist items that still prevent closing.
type ClosureBlockedError struct {
	OperationID int64
	Unresolved  []string
}

func (e ClosureBlockedError) Error() string {
	return fmt.Sprintf("operation %d cannot be closed: unresolved %s", e.OperationID, strings.Join(e.Unresolved, ", "))
}

func (e ClosureBlockedError) Unwrap() error { return ErrClosureBlocked }

// TransitionError reports a lifecycle move that is not forward.
type TransitionError struct {
	From OperationStatus
	To   OperationStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid operation status transition %s -> %s", e.From, e.To)
}
