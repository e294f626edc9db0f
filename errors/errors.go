package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is an error tagged with the Kind of failure that caused it, with
// a customizable error message.
type DriverError interface {
	error
	Kind() Kind
	Unwrap() error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type driverError struct {
	kind          Kind
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return StrError(e.kind)
}

func (e driverError) Kind() Kind {
	return e.kind
}

func (e driverError) Unwrap() error {
	return e.originalError
}

// Is reports whether `target` is a DriverError of the same kind. Messages and
// wrapped causes are ignored, so any error of a kind matches that kind's
// sentinel, e.g. ErrBrokenChain.
func (e driverError) Is(target error) bool {
	other, ok := target.(DriverError)
	if !ok {
		return false
	}
	return other.Kind() == e.kind
}

// WithMessage returns a new error of the same kind with `message` appended to
// this error's message.
func (e driverError) WithMessage(message string) DriverError {
	return driverError{
		kind:          e.kind,
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e.originalError,
	}
}

// Wrap returns a new error of the same kind that also carries `err`. Both the
// kind and `err` can be found with errors.Is and errors.As.
func (e driverError) Wrap(err error) DriverError {
	if err == nil {
		return e
	}
	return driverError{
		kind:          e.kind,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(err),
	}
}

// New creates a new [DriverError] with a default message derived from the
// error kind.
func New(kind Kind) DriverError {
	return driverError{
		kind:    kind,
		message: StrError(kind),
	}
}

func NewFromError(kind Kind, originalError error) DriverError {
	return New(kind).Wrap(originalError)
}

// NewWithMessage creates a new DriverError of the given kind with a custom
// message.
func NewWithMessage(kind Kind, message string) DriverError {
	return driverError{
		kind:    kind,
		message: fmt.Sprintf("%s: %s", StrError(kind), message),
	}
}

// KindOf returns the kind of the first DriverError in err's chain, or KindOK
// if there is none.
func KindOf(err error) Kind {
	var drverr DriverError
	if stderrors.As(err, &drverr) {
		return drverr.Kind()
	}
	return KindOK
}

// IsRetryable reports whether a failed block read may be attempted again.
// Transport failures and filesystem errors are never retryable.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindReadTimeout, KindNoResponse, KindCRC, KindProtocol:
		return true
	default:
		return false
	}
}

// Append collects multiple errors into one, e.g. one per partition probed.
// It returns nil if all errors are nil.
func Append(err error, errs ...error) error {
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, e := range errs {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	return result.ErrorOrNil()
}
