package errors

import "errors"

// AppError encodes domain specific error details.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap produces a new AppError instance.
func Wrap(code, message string, err error) error {
	if err == nil {
		return &AppError{Code: code, Message: message}
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// IsCode helps handler differentiate failures.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error taxonomy codes. Each maps to exactly one HTTP status at the
// interface boundary (see ragHTTPStatus in internal/interface/http/rag_handler.go); domain
// services never reason about status codes, only these tags.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeSchema         = "SCHEMA_VALIDATION_ERROR"
	CodeAuth           = "AUTH_ERROR"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	CodeInternal       = "INTERNAL_SERVER_ERROR"
	CodeExternal       = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout        = "REQUEST_TIMEOUT"
)

// Validation builds a 400-class AppError.
func Validation(message string, err error) error { return Wrap(CodeValidation, message, err) }

// NotFound builds a 404-class AppError.
func NotFound(message string) error { return Wrap(CodeNotFound, message, nil) }

// Forbidden builds a 403-class AppError.
func Forbidden(message string) error { return Wrap(CodeForbidden, message, nil) }

// Conflict builds a 409-class AppError.
func Conflict(message string) error { return Wrap(CodeConflict, message, nil) }

// External builds a 502-class AppError wrapping an upstream failure.
func External(message string, err error) error { return Wrap(CodeExternal, message, err) }

// Internal builds a 500-class AppError.
func Internal(message string, err error) error { return Wrap(CodeInternal, message, err) }

// Timeout builds a 504-class AppError.
func Timeout(message string) error { return Wrap(CodeTimeout, message, nil) }

// RateLimited builds a 429-class AppError.
func RateLimited(message string) error { return Wrap(CodeRateLimit, message, nil) }
