// Package errors defines the API error taxonomy and its HTTP mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/onlab/orderdesk/internal/domain"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeInvalidToken      ErrorCode = "invalid_token"
	CodeForbidden         ErrorCode = "forbidden"
	CodeNotFound          ErrorCode = "not_found"
	CodeInsufficientFunds ErrorCode = "insufficient_funds"
	CodeRetryable         ErrorCode = "retryable"
	CodeAlreadyProcessed  ErrorCode = "already_processed"
	CodeInvalidState      ErrorCode = "invalid_state"
	CodeValidation        ErrorCode = "validation_failed"
	CodeRateLimited       ErrorCode = "rate_limit_exceeded"
	CodeInternal          ErrorCode = "internal_error"
)

// ServiceError is an error carrying an HTTP status and a client-facing code.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail field and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

func Validation(message string, err error) *ServiceError {
	return newError(CodeValidation, http.StatusUnprocessableEntity, message, err)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func NotFound(resource string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
}

func PaymentRequired(err error) *ServiceError {
	return newError(CodeInsufficientFunds, http.StatusPaymentRequired, "Insufficient balance, please top up your wallet", err)
}

func Unavailable(message string, err error) *ServiceError {
	return newError(CodeRetryable, http.StatusServiceUnavailable, message, err)
}

func AlreadyProcessed(err error) *ServiceError {
	return newError(CodeAlreadyProcessed, http.StatusConflict, "Already processed", err)
}

func InvalidState(err error) *ServiceError {
	return newError(CodeInvalidState, http.StatusConflict, "Order is not in a valid state for this operation", err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// FromDomain maps workflow and store errors to client-facing errors.
func FromDomain(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}

	switch {
	case stderrors.Is(err, domain.ErrInsufficientFunds):
		return PaymentRequired(err)
	case stderrors.Is(err, domain.ErrUploadFailed):
		return Unavailable("Upload failed, please retry", err)
	case stderrors.Is(err, domain.ErrTransient):
		return Unavailable("Temporarily unavailable, please retry", err)
	case stderrors.Is(err, domain.ErrConflict), stderrors.Is(err, domain.ErrDuplicateResult):
		return AlreadyProcessed(err)
	case stderrors.Is(err, domain.ErrInvalidState), stderrors.Is(err, domain.ErrInvalidTransition):
		return InvalidState(err)
	case stderrors.Is(err, domain.ErrNotFound):
		return NotFound("Resource")
	case stderrors.Is(err, domain.ErrInvalidInput), stderrors.Is(err, domain.ErrReferenceMismatch):
		return Validation(err.Error(), err)
	}
	return Internal("Internal server error", err)
}
