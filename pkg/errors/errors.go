// Package errors provides the error taxonomy used across hydrocast.
//
// It wraps github.com/cockroachdb/errors so that every error created here
// carries a stack trace (printed with %+v) while remaining compatible with the
// standard library errors.Is / errors.As / errors.Unwrap functions.
//
// The package distinguishes:
//
//   - Sentinel errors (ErrEmptyData, ErrNotFitted, ...) for errors.Is checks
//   - Typed errors (DimensionError, ValueError, NotFittedError, ModelError,
//     ValidationError) for errors.As checks carrying structured context
//   - Warnings (ConvergenceWarning) which are reported through Warn instead
//     of aborting an operation
//
// Public methods throughout the module use Recover to turn panics into
// errors:
//
//	func (s *Thing) Do() (err error) {
//		defer errors.Recover(&err, "Thing.Do")
//		...
//	}
package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors.
var (
	ErrEmptyData            = errors.New("empty data")
	ErrNotFitted            = errors.New("not fitted")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrSingularMatrix       = errors.New("singular matrix")
	ErrNotImplemented       = errors.New("not implemented")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNumericalInstability = errors.New("numerical instability")
	ErrInsufficientData     = errors.New("insufficient data")
)

// New creates an error with a stack trace.
func New(msg string) error { return errors.New(msg) }

// Newf creates a formatted error with a stack trace.
func Newf(format string, args ...interface{}) error { return errors.Newf(format, args...) }

// Wrap annotates err with msg. Returns nil when err is nil.
func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

// Wrapf annotates err with a formatted message. Returns nil when err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Unwrap returns the next error in err's chain.
func Unwrap(err error) error { return errors.Unwrap(err) }

// DimensionError reports a shape mismatch along an axis.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int
}

// NewDimensionError creates a DimensionError. Axis 0 means rows, 1 means columns.
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

func (e *DimensionError) Error() string {
	axis := "rows"
	if e.Axis == 1 {
		axis = "columns"
	} else if e.Axis > 1 {
		axis = fmt.Sprintf("axis %d", e.Axis)
	}
	return fmt.Sprintf("hydrocast: %s: dimension mismatch on %s: expected %d, got %d", e.Op, axis, e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrDimensionMismatch) true for every DimensionError.
func (e *DimensionError) Is(target error) bool { return target == ErrDimensionMismatch }

// ValueError reports an invalid value passed to an operation.
type ValueError struct {
	Op      string
	Message string
}

// NewValueError creates a ValueError.
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("hydrocast: %s: %s", e.Op, e.Message)
}

// Is makes errors.Is(err, ErrInvalidInput) true for every ValueError.
func (e *ValueError) Is(target error) bool { return target == ErrInvalidInput }

// NotFittedError is returned when a stateful component is used before Fit or Load.
type NotFittedError struct {
	ModelName string
	Method    string
}

// NewNotFittedError creates a NotFittedError.
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("hydrocast: %s is not fitted yet; call Fit before %s", e.ModelName, e.Method)
}

// Is makes errors.Is(err, ErrNotFitted) true for every NotFittedError.
func (e *NotFittedError) Is(target error) bool { return target == ErrNotFitted }

// ModelError wraps a failure inside a model or pipeline operation.
type ModelError struct {
	Op     string
	Reason string
	Err    error
}

// NewModelError creates a ModelError wrapping err.
func NewModelError(op, reason string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Reason: reason, Err: err})
}

func (e *ModelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("hydrocast: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("hydrocast: %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ValidationError reports an invalid user supplied parameter.
// These errors are surfaced before any expensive work is started.
type ValidationError struct {
	Param  string
	Reason string
	Value  interface{}
}

// NewValidationError creates a ValidationError.
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{Param: param, Reason: reason, Value: value})
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("hydrocast: invalid %s: %s (got %v)", e.Param, e.Reason, e.Value)
}

// Is makes errors.Is(err, ErrInvalidInput) true for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// Recover converts a panic into an error assigned to *err.
// It must be called directly via defer.
func Recover(err *error, op string) {
	r := recover()
	if r == nil {
		return
	}
	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	default:
		cause = errors.Newf("%v", v)
	}
	*err = NewModelError(op, "panic recovered", cause)
}
