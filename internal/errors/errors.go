// Package errors provides the typed error taxonomy used across the chain
// ledger system. Anticipated business conditions (missing rows, duplicate
// groups, bad input) become categorized errors the API layer can map to
// status codes; storage failures propagate wrapped.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/chain-ledger/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryInput represents user input errors (4xx)
	CategoryInput ErrorCategory = "input"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents uniqueness/integrity conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInputError creates a generic user input error
func NewInputError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_INPUT",
		Message:    message,
	}
}

// NewEventNotFoundError reports an edit or delete referencing a history
// event that does not exist
func NewEventNotFoundError(identifier int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "EVENT_NOT_FOUND",
		Message:    fmt.Sprintf("history event with id %d does not exist", identifier),
		Details: map[string]interface{}{
			"identifier": identifier,
		},
	}
}

// NewLastEventOfGroupError reports a refused deletion that would orphan an
// event group
func NewLastEventOfGroupError(identifier int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "LAST_EVENT_OF_GROUP",
		Message:    fmt.Sprintf("history event with id %d is the last event of its group and cannot be deleted", identifier),
		Details: map[string]interface{}{
			"identifier": identifier,
		},
	}
}

// NewEventGroupConflictError reports an edit that would collide with an
// existing (event_identifier, sequence_index) pair
func NewEventGroupConflictError(eventIdentifier string, sequenceIndex int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "EVENT_GROUP_CONFLICT",
		Message: fmt.Sprintf(
			"event with event identifier %s and sequence index %d already exists",
			eventIdentifier, sequenceIndex,
		),
		Details: map[string]interface{}{
			"eventIdentifier": eventIdentifier,
			"sequenceIndex":   sequenceIndex,
		},
	}
}

// NewValidatorNotFoundError reports an edit or delete referencing an
// untracked validator
func NewValidatorNotFoundError(index uint64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "VALIDATOR_NOT_FOUND",
		Message:    fmt.Sprintf("validator with index %d is not tracked", index),
		Details: map[string]interface{}{
			"validatorIndex": index,
		},
	}
}

// NewOwnershipProportionError reports an out-of-range ownership proportion
func NewOwnershipProportionError(value string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_OWNERSHIP_PROPORTION",
		Message:    fmt.Sprintf("ownership proportion %s is not in (0, 1]", value),
		Details: map[string]interface{}{
			"value": value,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error, defaulting to internal
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}
	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsInputError determines if an error is a user-facing error (4xx)
func IsInputError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
