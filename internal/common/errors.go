package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflicting update")
)

// Pipeline error taxonomy.
var (
	// ErrSectionUnresolved: a required section (or its page range) cannot be located. Fatal, never retried.
	ErrSectionUnresolved = errors.New("section unresolved")
	// ErrCriticalField: a mandatory supplier field is missing after extraction. Fatal, never retried.
	ErrCriticalField = errors.New("critical field missing")
	// ErrParse: a model or OCR response does not honour its delimited contract.
	ErrParse = errors.New("response parse failed")
	// ErrThroughputExceeded: the backend throttled us; the only retryable class.
	ErrThroughputExceeded = errors.New("throughput exceeded")
	// ErrRunTimeout: the run exceeded its wall-clock bound.
	ErrRunTimeout = errors.New("run timed out")
	// ErrNotReady: the run has not reached a state that allows the requested action.
	ErrNotReady = errors.New("run not ready")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsFatal reports whether err is a locate failure that must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSectionUnresolved) || errors.Is(err, ErrCriticalField)
}

// GRPCError maps domain sentinels onto gRPC status codes.
func GRPCError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ErrNotReady):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrThroughputExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrRunTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
