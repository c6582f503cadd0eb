package domain

import (
	"errors"
	"fmt"
)

// Error codes shared by the pipeline, reports and the operator API.
const (
	CodeNotFound                 = "NOT_FOUND"
	CodeConflict                 = "CONFLICT"
	CodeValidation               = "VALIDATION_ERROR"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeForbidden                = "FORBIDDEN"
	CodeRateLimited              = "RATE_LIMITED"
	CodeFeedUnavailable          = "FEED_UNAVAILABLE"
	CodeDataIncomplete           = "DATA_INCOMPLETE"
	CodeReferentialInconsistency = "REFERENTIAL_INCONSISTENCY"
	CodePersistence              = "PERSISTENCE_ERROR"
	CodeInternal                 = "INTERNAL_ERROR"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// IsCode reports whether err carries an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError unwraps err to an AppError, or nil.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// Pipeline error taxonomy.

// ErrTransientFeed marks a live score fetch failure that a later pass may recover from.
func ErrTransientFeed(tournamentID string, cause error) *AppError {
	return &AppError{
		Code:    CodeFeedUnavailable,
		Message: fmt.Sprintf("live scores unavailable for tournament %s", tournamentID),
		Status:  503,
		Cause:   cause,
	}
}

// ErrDataIncomplete marks a matchup whose players are not all present or finished.
func ErrDataIncomplete(msg string) *AppError {
	return &AppError{Code: CodeDataIncomplete, Message: msg, Status: 202}
}

// ErrReferentialInconsistency marks a pick or parlay that does not line up with its matchup.
func ErrReferentialInconsistency(msg string) *AppError {
	return &AppError{Code: CodeReferentialInconsistency, Message: msg, Status: 422}
}

// ErrPersistence wraps a storage failure.
func ErrPersistence(op string, cause error) *AppError {
	return &AppError{Code: CodePersistence, Message: op, Status: 500, Cause: cause}
}
