package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Codes the API and the subscription registry report. Status is what the
// HTTP layer answers with.
var (
	ErrNotFound      = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation    = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrConflict      = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrInvalidFilter = NewError("INVALID_FILTER", "invalid filter specification", http.StatusBadRequest)
	ErrDecode        = NewError("DECODE_ERROR", "message is not a stream envelope", http.StatusBadRequest)
	ErrInternal      = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	fatal   *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

// Error prefers a "message" detail over the generic message of the code.
func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal tells the retry loop to give up. An explicit AsFatal wins, then a
// fatal cause, then the status: a request the caller got wrong fails the same
// way on every attempt.
func (e *Error) IsFatal() bool {
	if e.fatal != nil {
		return *e.fatal
	}
	var cause interface{ IsFatal() bool }
	if errors.As(e.Cause, &cause) {
		return cause.IsFatal()
	}
	return e.Status < http.StatusInternalServerError
}

func (e *Error) IsRetryable() bool {
	return !e.IsFatal()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

// WithDetail returns a copy carrying key; the receiver is left untouched so
// the package-level codes stay shareable.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	fatal := true
	err.fatal = &fatal
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code *Error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code.Code
}

func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

func IsValidation(err error) bool { return hasCode(err, ErrValidation) }

func IsConflict(err error) bool { return hasCode(err, ErrConflict) }

func IsInvalidFilter(err error) bool { return hasCode(err, ErrInvalidFilter) }

func IsDecode(err error) bool { return hasCode(err, ErrDecode) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders err as the JSON error body. Errors outside this
// package are reported as INTERNAL_ERROR.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}
	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}
	return response
}
