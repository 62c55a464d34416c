// Package errors provides the typed errors shared by the engine and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the base interface for all application errors
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// BaseError is the base implementation of AppError
type BaseError struct {
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"code"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"message,omitempty"`
}

func (e *BaseError) Error() string {
	return e.Message
}

func (e *BaseError) HTTPStatus() int {
	return e.StatusCode
}

func (e *BaseError) Code() string {
	return e.ErrorCode
}

func (e *BaseError) base() *BaseError {
	return e
}

// NotFoundError represents a missing tenant, table or row
type NotFoundError struct {
	BaseError
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("%s not found", resource),
			StatusCode: http.StatusNotFound,
			ErrorCode:  "NOT_FOUND",
		},
		Resource: resource,
	}
}

// NewNotFoundErrorf builds a NotFoundError with a caller-formatted message.
func NewNotFoundErrorf(resource, format string, args ...interface{}) *NotFoundError {
	e := NewNotFoundError(resource)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// ValidationError represents a missing or invalid request field
type ValidationError struct {
	BaseError
	Field string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusBadRequest,
			ErrorCode:  "VALIDATION_ERROR",
		},
		Field: field,
	}
}

// SchemaError wraps a DDL failure raised while creating or evolving a tenant table.
type SchemaError struct {
	BaseError
	Table string
	Err   error
}

func NewSchemaError(table string, err error) *SchemaError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &SchemaError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("failed to prepare table %s", table),
			StatusCode: http.StatusInternalServerError,
			ErrorCode:  "SCHEMA_ERROR",
			Details:    details,
		},
		Table: table,
		Err:   err,
	}
}

func (e *SchemaError) Unwrap() error { return e.Err }

// AccessDeniedError is returned when branch-scoped visibility rejects a read.
type AccessDeniedError struct {
	BaseError
	Resource string
}

func NewAccessDeniedError(resource, message, hint string) *AccessDeniedError {
	return &AccessDeniedError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusForbidden,
			ErrorCode:  "ACCESS_DENIED",
			Hint:       hint,
		},
		Resource: resource,
	}
}

// PersistenceError wraps a generic DML failure.
type PersistenceError struct {
	BaseError
	Err error
}

func NewPersistenceError(message string, err error) *PersistenceError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &PersistenceError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusInternalServerError,
			ErrorCode:  "PERSISTENCE_ERROR",
			Details:    details,
		},
		Err: err,
	}
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UnauthorizedError represents an authentication error
type UnauthorizedError struct {
	BaseError
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	if message == "" {
		message = "authentication required"
	}
	return &UnauthorizedError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusUnauthorized,
			ErrorCode:  "UNAUTHORIZED",
		},
	}
}

// PermissionDeniedError represents a role check failure
type PermissionDeniedError struct {
	BaseError
	Action string
}

func NewPermissionDeniedError(action string) *PermissionDeniedError {
	return &PermissionDeniedError{
		BaseError: BaseError{
			Message:    "permission denied",
			StatusCode: http.StatusForbidden,
			ErrorCode:  "PERMISSION_DENIED",
		},
		Action: action,
	}
}

// ConflictError represents a conflict error (e.g., duplicate)
type ConflictError struct {
	BaseError
	Resource string
}

func NewConflictError(resource string) *ConflictError {
	return &ConflictError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("%s already exists", resource),
			StatusCode: http.StatusConflict,
			ErrorCode:  "CONFLICT",
		},
		Resource: resource,
	}
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}

// IsAccessDenied reports whether err carries an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var ad *AccessDeniedError
	return stderrors.As(err, &ad)
}

type hasBase interface {
	base() *BaseError
}

// ToHTTPError converts any error to an appropriate HTTP response
func ToHTTPError(err error) (int, map[string]interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	var hb hasBase
	if stderrors.As(err, &hb) {
		b := hb.base()
		body := map[string]interface{}{
			"success": false,
			"error":   b.Message,
			"code":    b.ErrorCode,
		}
		if b.Details != "" {
			body["details"] = b.Details
		}
		if b.Hint != "" {
			body["message"] = b.Hint
		}
		return b.StatusCode, body
	}

	// Default to internal server error for unknown errors
	return http.StatusInternalServerError, map[string]interface{}{
		"success": false,
		"error":   "internal server error",
		"code":    "INTERNAL_ERROR",
	}
}
