package imagesearch

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrorCode represents specific error codes for search operations.
type ErrorCode int

const (
	// ErrCodeEmptyQuery is returned when an empty query is provided.
	ErrCodeEmptyQuery ErrorCode = iota + 1000

	// ErrCodeInvalidOption is returned when an invalid option is provided.
	ErrCodeInvalidOption

	// ErrCodeTimeout is returned when a search operation times out.
	ErrCodeTimeout

	// ErrCodeCanceled is returned when a search operation is canceled.
	ErrCodeCanceled

	// ErrCodeBackendUnavailable is returned when the search backend is unavailable.
	ErrCodeBackendUnavailable

	// ErrCodeInvalidResponse is returned when a backend answers with a body
	// that cannot be decoded.
	ErrCodeInvalidResponse
)

// String returns the human-readable string representation of the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeEmptyQuery:
		return "empty query"
	case ErrCodeInvalidOption:
		return "invalid option"
	case ErrCodeTimeout:
		return "operation timed out"
	case ErrCodeCanceled:
		return "operation canceled"
	case ErrCodeBackendUnavailable:
		return "backend unavailable"
	case ErrCodeInvalidResponse:
		return "invalid response"
	default:
		return "unknown error"
	}
}

// newErrorWithCode creates a new error with a code and message.
func newErrorWithCode(code ErrorCode, msg string) error {
	err := errors.New(msg)
	return errors.WithSecondaryError(err, errors.Newf("code: %d", int(code)))
}

// Common errors that can be returned by search operations.
var (
	// ErrEmptyQuery is returned when an empty query is provided.
	ErrEmptyQuery = newErrorWithCode(ErrCodeEmptyQuery, "imagesearch: empty query")

	// ErrInvalidOption is returned when an invalid option is provided.
	ErrInvalidOption = newErrorWithCode(ErrCodeInvalidOption, "imagesearch: invalid option")

	// ErrTimeout is returned when a search operation times out.
	ErrTimeout = newErrorWithCode(ErrCodeTimeout, "imagesearch: operation timed out")

	// ErrCanceled is returned when a search operation is canceled.
	ErrCanceled = newErrorWithCode(ErrCodeCanceled, "imagesearch: operation canceled")

	// ErrBackendUnavailable is returned when the search backend is unavailable.
	ErrBackendUnavailable = newErrorWithCode(ErrCodeBackendUnavailable, "imagesearch: backend unavailable")

	// ErrInvalidResponse is returned when a backend response cannot be decoded.
	ErrInvalidResponse = newErrorWithCode(ErrCodeInvalidResponse, "imagesearch: invalid response")
)

// Unavailable marks cause as a backend failure. The result matches
// ErrBackendUnavailable with errors.Is and keeps cause for logging.
func Unavailable(cause error, format string, args ...interface{}) error {
	return errors.WithSecondaryError(ErrBackendUnavailable, errors.Wrapf(cause, format, args...))
}

// ContextError maps a context error onto ErrTimeout or ErrCanceled. It
// returns nil for any other error.
func ContextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	default:
		return nil
	}
}
