package apperror

import (
	"errors"
	"net/http"
)

type Code string

const (
	BadRequest          Code = "BAD_REQUEST"
	NotFound            Code = "NOT_FOUND"
	Internal            Code = "INTERNAL"
	LockTimeout         Code = "LOCK_TIMEOUT"
	DuplicateJobID      Code = "DUPLICATE_JOB_ID"
	MalformedPayload    Code = "MALFORMED_PAYLOAD"
	ExternalCallFailure Code = "EXTERNAL_CALL_FAILURE"
	InvalidTransition   Code = "INVALID_TRANSITION"
)

// Sentinels for errors.Is. Any *AppError with the same code matches.
var (
	ErrNotFound            = New(NotFound, "not found")
	ErrLockTimeout         = New(LockTimeout, "lock timeout")
	ErrDuplicateJobID      = New(DuplicateJobID, "duplicate job id")
	ErrMalformedPayload    = New(MalformedPayload, "malformed payload")
	ErrExternalCallFailure = New(ExternalCallFailure, "external call failed")
	ErrInvalidTransition   = New(InvalidTransition, "invalid status transition")
)

type AppError struct {
	code    Code
	message string
	err     error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, err error, message string) *AppError {
	return &AppError{code: code, message: message, err: err}
}

func (e *AppError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Unwrap() error   { return e.err }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.code == e.code
}

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest, MalformedPayload:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DuplicateJobID, InvalidTransition:
		return http.StatusConflict
	case LockTimeout:
		return http.StatusServiceUnavailable
	case ExternalCallFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code of the first *AppError in err's chain, or Internal.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.code
	}
	return Internal
}
