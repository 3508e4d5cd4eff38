package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Journey-specific error codes.
const (
	ErrJourneyNotFound   = "JOURNEY_NOT_FOUND"
	ErrUnknownCommand    = "UNKNOWN_COMMAND"
	ErrMissingTrigger    = "MISSING_TRIGGER"
	ErrInstanceExists    = "INSTANCE_EXISTS"
	ErrInstanceNotFound  = "INSTANCE_NOT_FOUND"
	ErrIllegalTransition = "ILLEGAL_TRANSITION"
	ErrApprovalNotFound  = "APPROVAL_NOT_FOUND"
	ErrApprovalResolved  = "APPROVAL_RESOLVED"
	ErrUnsupportedAction = "UNSUPPORTED_ACTION"
)

// ErrorEnvelope is the standard error response envelope returned by the API.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code of err, or INTERNAL_ERROR when err is not
// an *ErrorEnvelope. CodeOf(nil) returns the empty string.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if ee, ok := err.(*ErrorEnvelope); ok {
		return ee.Code
	}
	return ErrInternalError
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewJourneyNotFoundError returns a JOURNEY_NOT_FOUND error.
func NewJourneyNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrJourneyNotFound, Message: msg}
}

// NewUnknownCommandError returns an UNKNOWN_COMMAND error.
func NewUnknownCommandError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnknownCommand, Message: msg}
}

// NewMissingTriggerError returns a MISSING_TRIGGER error.
func NewMissingTriggerError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrMissingTrigger, Message: msg}
}

// NewInstanceExistsError returns an INSTANCE_EXISTS error.
func NewInstanceExistsError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInstanceExists, Message: msg}
}

// NewInstanceNotFoundError returns an INSTANCE_NOT_FOUND error.
func NewInstanceNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInstanceNotFound, Message: msg}
}

// NewIllegalTransitionError returns an ILLEGAL_TRANSITION error.
func NewIllegalTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrIllegalTransition, Message: msg}
}

// NewApprovalNotFoundError returns an APPROVAL_NOT_FOUND error.
func NewApprovalNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrApprovalNotFound, Message: msg}
}

// NewApprovalResolvedError returns an APPROVAL_RESOLVED error.
func NewApprovalResolvedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrApprovalResolved, Message: msg}
}

// NewUnsupportedActionError returns an UNSUPPORTED_ACTION error.
func NewUnsupportedActionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnsupportedAction, Message: msg}
}
