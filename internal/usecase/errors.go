package usecase

import (
	"errors"
	"fmt"

	"guesthouse-sms-agent/internal/repository"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorConflict     ErrorCode = "CONFLICT"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// ReasonFromTextRequired is the reason reported for an inbound message
// missing its sender or body.
const ReasonFromTextRequired = "from, text is required"

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// storeError classifies a repository failure by its sentinel.
func storeError(reason string, err error) *Error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return newError(ErrorNotFound, reason, err)
	case errors.Is(err, repository.ErrConflict):
		return newError(ErrorConflict, reason, err)
	default:
		return newError(ErrorInternal, reason, err)
	}
}
