package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeInvalidIdentifier ErrCode = "INVALID_IDENTIFIER"
	ErrCodeTransport         ErrCode = "TRANSPORT"
	ErrCodeCancelled         ErrCode = "CANCELLED"
	ErrCodeStatsUnavailable  ErrCode = "STATS_UNAVAILABLE"
	ErrCodeAggregation       ErrCode = "AGGREGATION"
	ErrCodeNotFound          ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrCode = "UNAUTHORIZED"
	ErrCodeRateLimited       ErrCode = "RATE_LIMITED"
	ErrCodeConflict          ErrCode = "CONFLICT"
	ErrCodeInternal          ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest        ErrCode = "BAD_REQUEST"
	ErrCodeBatchFailed       ErrCode = "BATCH_FAILED"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidIdentifierError creates an error for an input that is not an owner/repo reference
func NewInvalidIdentifierError(input string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidIdentifier,
		Message: fmt.Sprintf("invalid repository identifier %q: use https://github.com/owner/repo or owner/repo", input),
	}
}

// NewTransportError creates an error for a failed or malformed API exchange
func NewTransportError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTransport,
		Message: message,
		Err:     err,
	}
}

// NewCancelledError creates an error for work stopped by a cancellation request
func NewCancelledError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeCancelled,
		Message: message,
		Err:     context.Canceled,
	}
}

// NewStatsUnavailableError creates an error for contributor statistics that never became ready
func NewStatsUnavailableError(repo string, attempts int) *AppError {
	return &AppError{
		Code:    ErrCodeStatsUnavailable,
		Message: fmt.Sprintf("contributor statistics for %s still computing after %d attempts", repo, attempts),
	}
}

// NewAggregationError wraps the cause of a failed repository aggregation
func NewAggregationError(repo string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeAggregation,
		Message: fmt.Sprintf("failed to analyze %s", repo),
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewBatchFailedError creates an error for a batch run that produced no results
func NewBatchFailedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBatchFailed,
		Message: message,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain
func CodeOf(err error) (ErrCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

func hasCode(err error, codes ...ErrCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		for _, c := range codes {
			if appErr.Code == c {
				return true
			}
		}
		err = appErr.Err
	}
	return false
}

// IsInvalidIdentifier checks if the error is an invalid identifier error
func IsInvalidIdentifier(err error) bool {
	return hasCode(err, ErrCodeInvalidIdentifier)
}

// IsTransport checks if the error came from a failed API exchange.
// Authentication and rate limit failures count as transport failures.
func IsTransport(err error) bool {
	return hasCode(err, ErrCodeTransport, ErrCodeUnauthorized, ErrCodeRateLimited)
}

// IsCancelled checks if the error is the result of a cancellation request
func IsCancelled(err error) bool {
	return hasCode(err, ErrCodeCancelled) || errors.Is(err, context.Canceled)
}

// IsStatsUnavailable checks if the error is a stats unavailable error
func IsStatsUnavailable(err error) bool {
	return hasCode(err, ErrCodeStatsUnavailable)
}

// IsAggregation checks if the error is an aggregation error
func IsAggregation(err error) bool {
	return hasCode(err, ErrCodeAggregation)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsBatchFailed checks if the error reports a failed batch run
func IsBatchFailed(err error) bool {
	return hasCode(err, ErrCodeBatchFailed)
}
