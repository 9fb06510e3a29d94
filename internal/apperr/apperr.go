// Package apperr defines the stable error codes surfaced on interactive paths.
package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeAuthRequired        = "AUTH_REQUIRED"
	CodeRefreshFailure      = "REFRESH_FAILURE"
	CodeRemoteSync          = "REMOTE_SYNC_FAILURE"
	CodeValidation          = "VALIDATION_ERROR"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeNotFound            = "NOT_FOUND"
	CodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	CodeLeadTimeTooShort    = "LEAD_TIME_TOO_SHORT"
	CodeLeadTimeTooLong     = "LEAD_TIME_TOO_LONG"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeCannotCancel        = "CANNOT_CANCEL"
	CodeCannotReschedule    = "CANNOT_RESCHEDULE"
)

// Error carries a stable machine-readable code alongside the message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code, or empty when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func Is(err error, code string) bool {
	return CodeOf(err) == code
}
